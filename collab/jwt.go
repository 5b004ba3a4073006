package collab

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// workspace claims attached to the channel join frame.
// the realtime endpoint verifies the signature;
// the client only needs the claims for presence and channel naming
type WorkspaceJwt struct {
	UserId      Id
	UserName    string
	WorkspaceId Id
}

func ParseWorkspaceJwtUnverified(jwtStr string) (*WorkspaceJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	workspaceJwt := &WorkspaceJwt{}

	// non-string claims are skipped, never trusted
	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			workspaceJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"].(string); ok {
		workspaceJwt.UserName = userName
	}
	if workspaceIdStr, ok := claims["workspace_id"].(string); ok {
		if workspaceId, err := ParseId(workspaceIdStr); err == nil {
			workspaceJwt.WorkspaceId = workspaceId
		}
	}

	return workspaceJwt, nil
}
