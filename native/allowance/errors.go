package allowance

import "fluxpay/native/common"

// Program errors. Framework failures such as Unauthorized or AccountNotFound
// live in native/common.
var (
	ErrAllowanceExpired      = &common.Error{Code: 6000, Name: "AllowanceExpired", Msg: "allowance has expired"}
	ErrInsufficientAllowance = &common.Error{Code: 6001, Name: "InsufficientAllowance", Msg: "insufficient allowance remaining"}
)
