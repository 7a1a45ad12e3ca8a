package dto

// SignInReq token 与 userId 二选一，userId 只在内存后端可用
type SignInReq struct {
	Token  string `json:"token" validate:"required_without=UserID"`
	UserID string `json:"userId" validate:"required_without=Token,omitempty,max=64"`
}

type SessionDTO struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}
