package provisioning

import (
	"strings"

	"github.com/google/uuid"
)

// keyNamespace scopes the name-based UUIDs used as idempotency keys. Changing it
// would make every retry look like a brand new request to the remote APIs.
var keyNamespace = uuid.MustParse("6f1c1f0e-4a35-5b7e-9a0f-3d2c8b1e7a44")

// CustomerKey is the idempotency key for creating userID's processor customer.
func CustomerKey(userID string) string {
	return uuid.NewSHA1(keyNamespace, []byte("customer:"+userID)).String()
}

// WalletKey is the idempotency key for userID's wallet in currency.
func WalletKey(userID, currency string) string {
	return uuid.NewSHA1(keyNamespace, []byte("wallet:"+userID+":"+strings.ToUpper(currency))).String()
}
