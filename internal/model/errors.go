package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// ユーザーに提示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: verification, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeHandleNotFound         = "HANDLE_NOT_FOUND"
	ErrCodeAccountAlreadyLinked   = "ACCOUNT_ALREADY_LINKED"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeProblemPoolUnavailable = "PROBLEM_POOL_UNAVAILABLE"
	ErrCodeInvalidRank            = "INVALID_RANK"
)

// HasCode はエラーが指定コードのAPIErrorかどうかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewHandleNotFoundError はCodeforcesハンドル未存在エラーを生成する。
func NewHandleNotFoundError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeHandleNotFound,
		Message:  fmt.Sprintf("Codeforcesハンドル「%s」が見つかりません。", handle),
		Category: "validation",
		Action:   "ハンドルのつづりを確認して、もう一度お試しください。",
	}
}

// NewAccountAlreadyLinkedError はハンドルが同一ギルド内の別ユーザーに
// 紐付け済みの場合のエラーを生成する。
func NewAccountAlreadyLinkedError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountAlreadyLinked,
		Message:  fmt.Sprintf("ハンドル「%s」はこのサーバーで既に別のユーザーに紐付けられています。", handle),
		Category: "verification",
		Action:   "自分のハンドルかどうか確認してください。心当たりがない場合はサーバー管理者に連絡してください。",
	}
}

// NewSessionNotFoundError は有効な認証セッションが存在しない場合のエラーを生成する。
func NewSessionNotFoundError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("ハンドル「%s」の有効な認証セッションが見つかりません。", handle),
		Category: "verification",
		Action:   "/verify で新しい認証を開始してください。",
	}
}

// NewProblemPoolUnavailableError は問題プールが空または取得不能な場合のエラーを生成する。
func NewProblemPoolUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProblemPoolUnavailable,
		Message:  fmt.Sprintf("チャレンジ問題プールを利用できません: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRankError は公式ランク集合に含まれないランクラベルが
// 指定された場合のエラーを生成する。
func NewInvalidRankError(rank string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRank,
		Message:  fmt.Sprintf("無効なランクです: %s", rank),
		Category: "validation",
		Action:   "Codeforcesの公式ランク（newbie〜legendary grandmaster）を指定してください。",
	}
}
