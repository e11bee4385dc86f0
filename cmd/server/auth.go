package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

const sessionKey = "session"

// Claims identify a session. The upstream ticket never leaves the server.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type authRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) issueToken(session *Session) (string, time.Time, error) {
	expires := time.Now().Add(s.config.SessionTTL)
	claims := Claims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Username,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (s *Server) verifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authenticate logs in upstream and opens a session. Nothing is stored when
// the platform rejects the credentials.
func (s *Server) authenticate(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "username and password are required"})
		return
	}

	session := s.newSession(req.Username)
	ticket, err := session.Client.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		session.Coordinator.Close()
		s.logger.Warn(fmt.Sprintf("🔒 Login failed for %s: %v", req.Username, err))
		respondError(c, err)
		return
	}

	session.ID = uuid.NewString()
	token, expires, err := s.issueToken(session)
	if err != nil {
		session.Coordinator.Close()
		respondError(c, err)
		return
	}
	s.sessions.Set(session.ID, session)
	s.logger.Info(fmt.Sprintf("🔓 Session %s opened for %s", session.ID, req.Username))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"token":          token,
		"session_id":     session.ID,
		"ticket_preview": ticket.Preview(),
		"expires_at":     expires,
	})
}

// requireSession accepts a bearer token, or a token query parameter for
// websocket clients that cannot set headers.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			tokenString = strings.TrimPrefix(header, "Bearer ")
			if tokenString == header {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims, err := s.verifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		session, ok := s.sessions.Get(claims.SessionID)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrSessionExpired.Error()})
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

func currentSession(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

func (s *Server) logout(c *gin.Context) {
	session := currentSession(c)
	s.sessions.Delete(session.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) session(c *gin.Context) {
	session := currentSession(c)
	ticket, ok := session.Client.Ticket()
	body := gin.H{
		"session_id":    session.ID,
		"username":      session.Username,
		"authenticated": ok,
		"created_at":    session.CreatedAt,
		"jobs":          session.Coordinator.Jobs(),
	}
	if ok {
		body["ticket_preview"] = ticket.Preview()
	}
	c.JSON(http.StatusOK, body)
}

// respondError maps domain errors to status codes.
func respondError(c *gin.Context, err error) {
	var authErr *epias.AuthError
	status := statusFor(err)
	body := gin.H{"success": false, "error": err.Error()}
	if errors.As(err, &authErr) && authErr.Status != 0 {
		body["upstream_status"] = authErr.Status
	}
	c.JSON(status, body)
}
