package discord

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestIsUnknownMember_MatchesRESTErrorCode(t *testing.T) {
	err := &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{
			Code:    discordgo.ErrCodeUnknownMember,
			Message: "Unknown Member",
		},
	}

	if !isUnknownMember(err) {
		t.Error("Unknown MemberのRESTErrorに対してtrueを返すべき")
	}
}

func TestIsUnknownMember_OtherRESTError(t *testing.T) {
	err := &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{
			Code:    discordgo.ErrCodeMissingPermissions,
			Message: "Missing Permissions",
		},
	}

	if isUnknownMember(err) {
		t.Error("他のAPIエラーコードに対してfalseを返すべき")
	}
}

func TestIsUnknownMember_NonRESTError(t *testing.T) {
	if isUnknownMember(errors.New("network error")) {
		t.Error("RESTError以外に対してfalseを返すべき")
	}
	if isUnknownMember(nil) {
		t.Error("nilに対してfalseを返すべき")
	}
}

func TestNewRoleManager_ReturnsNonNil(t *testing.T) {
	m := NewRoleManager(nil)
	if m == nil {
		t.Fatal("expected non-nil RoleManager")
	}
}
