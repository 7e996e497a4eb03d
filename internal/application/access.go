package application

import "github.com/ericfisherdev/keyvault/internal/domain/model"

// AccessController decides per-account read and write permission. Admins may
// read any account; only the owner may change or delete one.
type AccessController struct{}

// CanRead reports whether principal may view account.
func (AccessController) CanRead(account model.Account, principal model.Principal) bool {
	return isOwner(account, principal) || principal.IsAdmin()
}

// CanWrite reports whether principal may update or delete account.
func (AccessController) CanWrite(account model.Account, principal model.Principal) bool {
	return isOwner(account, principal)
}

func isOwner(account model.Account, principal model.Principal) bool {
	return principal.ID != "" && account.Owner == principal.ID
}
