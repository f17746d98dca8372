package user

import (
	"strings"
	"testing"
	"time"
)

func Test_makeTokenWithTimestamp(t *testing.T) {
	now := time.Now()
	usr := User{ID: "0b7acb2e-12f3-46a5-a7b5-6a563bd9612b", LastLogin: now}
	_ = usr.SetPassword("LixPro.^897")

	usr2 := User{ID: "8a1eb2f3-9f6e-44a8-8f0d-2f0d8f0b6c11", LastLogin: now}
	_ = usr2.SetPassword("LixPro.^897")

	tests := []struct {
		name     string
		usr      User
		token    func(usr User) string
		wantErr  error
		lateDays int
	}{
		{
			name:  "valid token",
			usr:   usr,
			token: MakeToken,
		},
		{
			name:    "empty token",
			usr:     usr,
			token:   func(usr User) string { return "" },
			wantErr: errInvalidToken,
		},
		{
			name:    "malformed token",
			usr:     usr,
			token:   func(usr User) string { return "not-a-real-token" },
			wantErr: errInvalidToken,
		},
		{
			name:    "token for another user",
			usr:     usr,
			token:   func(usr User) string { return MakeToken(usr2) },
			wantErr: errInvalidToken,
		},
		{
			name: "tampered signature",
			usr:  usr,
			token: func(usr User) string {
				token := MakeToken(usr)
				i := strings.Index(token, "-")
				return token[:i+1] + "forgedsignature"
			},
			wantErr: errInvalidToken,
		},
		{
			name:     "token within timeout",
			usr:      usr,
			token:    MakeToken,
			lateDays: 2,
		},
		{
			name:     "expired token",
			usr:      usr,
			token:    MakeToken,
			wantErr:  errTokenExpired,
			lateDays: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.token(tt.usr)

			if tt.lateDays > 0 {
				SetNowFunc(func() time.Time { return time.Now().AddDate(0, 0, tt.lateDays) })
				defer SetNowFunc(time.Now)
			}

			if err := verifyToken(tt.usr, token); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
