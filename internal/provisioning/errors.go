package provisioning

import "fmt"

const resourceCustomer = "customer"

func walletResource(currency string) string {
	return "wallet:" + currency
}

// ResourceError is the final failure for one sub-resource in a run.
type ResourceError struct {
	Resource  string
	Attempts  int
	Transient bool
	Err       error
}

func (e *ResourceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failure after %d attempt(s): %v", e.Resource, kind, e.Attempts, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ErrorDetail is the serializable form of a ResourceError.
type ErrorDetail struct {
	Resource  string `json:"resource"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
	Attempts  int    `json:"attempts"`
}

func detailOf(e *ResourceError) ErrorDetail {
	return ErrorDetail{Resource: e.Resource, Message: e.Err.Error(), Transient: e.Transient, Attempts: e.Attempts}
}
