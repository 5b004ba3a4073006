package collab

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func testWorkspaceJwt(userId Id, userName string, workspaceId Id) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":      userId.String(),
		"user_name":    userName,
		"workspace_id": workspaceId.String(),
	})
	jwtStr, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}
	return jwtStr
}

func TestParseWorkspaceJwtUnverified(t *testing.T) {
	userId := NewId()
	workspaceId := NewId()

	jwtStr := testWorkspaceJwt(userId, "alice", workspaceId)

	claims, err := ParseWorkspaceJwtUnverified(jwtStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.UserId, userId)
	assert.Equal(t, claims.UserName, "alice")
	assert.Equal(t, claims.WorkspaceId, workspaceId)

	_, err = ParseWorkspaceJwtUnverified("not-a-jwt")
	assert.NotEqual(t, err, nil)
}

func TestParseWorkspaceJwtNonStringClaims(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":      123,
		"user_name":    123,
		"workspace_id": true,
	})
	jwtStr, err := token.SignedString([]byte("test-signing-key"))
	assert.Equal(t, err, nil)

	// malformed claim values are skipped, not a parse error
	claims, err := ParseWorkspaceJwtUnverified(jwtStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.UserId, Id{})
	assert.Equal(t, claims.UserName, "")
	assert.Equal(t, claims.WorkspaceId, Id{})
}
