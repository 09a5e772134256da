package auth

import "github.com/nightlife-social/livechat/types"

var (
	ErrInvalidCredential = &types.ChatError{Code: types.CodeUnauthorized, Message: "invalid credential"}
	ErrUnknownProvider   = &types.ChatError{Code: types.CodeUnauthorized, Message: "unknown identity provider"}
)
