package core

// MintRequest asks the token issuer to mint a loyalty token for a user.
type MintRequest struct {
	RequestID string `json:"request_id"`
	UserID    UserID `json:"user_id"`
	Level     int    `json:"level"`
}

// MintReceipt is the issuer's opaque success answer.
type MintReceipt struct {
	UserID  UserID `json:"user_id"`
	TokenID string `json:"token_id"`
}

// LevelInfo is the public view of a user's level.
type LevelInfo struct {
	UserID UserID `json:"user_id"`
	Level  int    `json:"level"`
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
}
