package web

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	"github.com/msteinert/pam"
	"go.uber.org/zap"
)

const (
	cookieName  = "textcnn-auth"
	cookieValue = "authenticated"
)

// Authentication modes
const (
	AuthNone  = "none"
	AuthBasic = "basic"
	AuthPam   = "pam"
)

type AuthMiddleware struct {
	mode string
	sc   *securecookie.SecureCookie
	opts httpauth.AuthOptions
}

// Setup new middleware for authenticating requests. For basic mode the user and password must match
// the given values, for pam mode they are checked against the system login.
func NewAuthMiddleware(mode, user, password string) (AuthMiddleware, error) {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	mw := AuthMiddleware{
		mode: mode,
		sc:   securecookie.New(hashKey, blockKey),
		opts: httpauth.AuthOptions{Realm: "Restricted"},
	}
	switch mode {
	case AuthNone, "":
		mw.mode = AuthNone
	case AuthBasic:
		if user == "" || password == "" {
			return mw, errors.New("basic auth requires a user and password")
		}
		mw.opts.AuthFunc = func(u, p string, r *http.Request) bool {
			ok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
			logger.Info("auth", zap.String("user", u), zap.Bool("ok", ok))
			return ok
		}
	case AuthPam:
		mw.opts.AuthFunc = authPam
	default:
		return mw, fmt.Errorf("invalid auth mode %q", mode)
	}
	return mw, nil
}

// If session cookie is not present then use basic auth to login and set a cookie.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	if mw.mode == AuthNone {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(cookieName); err == nil {
			var value string
			if err = mw.sc.Decode(cookieName, cookie.Value, &value); err == nil && value == cookieValue {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoded, err := mw.sc.Encode(cookieName, cookieValue); err == nil {
			cookie := &http.Cookie{Name: cookieName, Value: encoded, Path: "/", HttpOnly: true}
			http.SetCookie(w, cookie)
		} else {
			logger.Error("encoding cookie", zap.Error(err))
		}
		h.ServeHTTP(w, r)
	})
}

func authPam(user, pass string, r *http.Request) bool {
	t, err := pam.StartFunc("", "", func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOn:
			return user, nil
		case pam.PromptEchoOff:
			return pass, nil
		default:
			return "", errors.New("unexpected style")
		}
	})
	if err != nil {
		logger.Error("pam auth", zap.Error(err))
		return false
	}
	ok := t.Authenticate(0) == nil
	logger.Info("auth", zap.String("user", user), zap.Bool("ok", ok))
	return ok
}
