package codeforces

import (
	"errors"
	"fmt"
)

// 定義済みエラーコード。API呼び出しの失敗原因を種類別に区別する。
const (
	// ErrCodeHandleNotFound は指定ハンドルのユーザーが存在しないことを示す。
	// 呼び出し元はこれを致命的エラーではなく検証結果として扱う。
	ErrCodeHandleNotFound = "HANDLE_NOT_FOUND"
	// ErrCodeUpstreamFailed はAPIがFAILEDステータスを返したことを示す。
	// Commentに上流のコメント文字列を保持する。
	ErrCodeUpstreamFailed = "UPSTREAM_FAILED"
	// ErrCodeTimeout は呼び出しがタイムアウトしたことを示す。
	// 上流の拒否（UPSTREAM_FAILED）と区別して、遅延を運用上識別できるようにする。
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeTransport はネットワーク・トランスポート層の失敗を示す。
	ErrCodeTransport = "TRANSPORT"
)

// Error はCodeforces API呼び出しの失敗を種類別に表す。
type Error struct {
	Code    string // エラーコード
	Comment string // 上流APIのコメント（UPSTREAM_FAILED / HANDLE_NOT_FOUNDの場合）
	Err     error  // 原因エラー（TIMEOUT / TRANSPORTの場合）
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	switch {
	case e.Comment != "":
		return fmt.Sprintf("codeforces: [%s] %s", e.Code, e.Comment)
	case e.Err != nil:
		return fmt.Sprintf("codeforces: [%s] %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("codeforces: [%s]", e.Code)
	}
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode はエラーが指定コードのcodeforces.Errorかどうかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
