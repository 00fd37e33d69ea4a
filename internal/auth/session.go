package auth

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
)

const (
	sessionUserID   = "user_id"
	sessionUsername = "username"
	sessionRole     = "role"
)

// SaveSession stores the identity in the cookie session.
func SaveSession(c *gin.Context, who attendance.Identity) error {
	session := sessions.Default(c)
	session.Set(sessionUserID, who.UserID)
	session.Set(sessionUsername, who.Username)
	session.Set(sessionRole, who.Role)
	return session.Save()
}

// ClearSession drops the session and returns the role it carried, so logout
// can pick the right login page to redirect to.
func ClearSession(c *gin.Context) string {
	session := sessions.Default(c)
	role, _ := session.Get(sessionRole).(string)
	session.Clear()
	_ = session.Save()
	return role
}

func identityFromSession(c *gin.Context) attendance.Identity {
	session := sessions.Default(c)
	userID, _ := session.Get(sessionUserID).(string)
	username, _ := session.Get(sessionUsername).(string)
	role, _ := session.Get(sessionRole).(string)
	return attendance.Identity{UserID: userID, Username: username, Role: role}
}
