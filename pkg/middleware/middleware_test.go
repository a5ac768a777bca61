package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smallbiznis-missions/pkg/authz"
	"smallbiznis-missions/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequestID(), Error())
	v1 := r.Group("/v1", Authenticate(enforcer))
	v1.POST("/participations/:id/decision", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"member": GetIdentity(c).MemberID})
	})
	v1.GET("/participations/:id", func(c *gin.Context) {
		c.Error(errutil.InvalidTransition("participation is terminal"))
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/participations/1/decision", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/participations/1/decision", nil)
	req.Header.Set(HeaderMemberID, "m-1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/participations/1/decision", nil)
	req.Header.Set(HeaderMemberID, "staff-1")
	req.Header.Set(HeaderMemberRole, authz.RoleStaff)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/participations/1", nil)
	req.Header.Set(HeaderMemberID, "m-1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(errutil.StatusConflict), body.Error.Code)
}

func TestGRPCError(t *testing.T) {
	interceptor := GRPCError()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		return nil, errutil.NotFound("missing", errors.New("no rows"))
	})
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
}
