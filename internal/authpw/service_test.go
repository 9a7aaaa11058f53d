package authpw

import (
	"context"
	"testing"

	"vestira/api/internal/store"
)

func newTestService() *Service {
	return NewService(store.NewMemoryStore())
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	t.Run("successful sign up", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "priya@meridian.example",
			Password:    "password123",
			DisplayName: "Priya N.",
			Role:        "allocator",
			FirmName:    "Meridian Capital",
		}

		resp, err := svc.SignUp(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if resp.UserID == "" {
			t.Error("expected UserID to be set")
		}
		if resp.VerificationToken == "" {
			t.Error("expected VerificationToken to be set")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify to be true")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "priya@meridian.example",
			Password:    "password123",
			DisplayName: "Other User",
		}

		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "short@meridian.example",
			Password:    "short",
			DisplayName: "Test User",
		}

		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})

	t.Run("unknown role normalized to manager", func(t *testing.T) {
		svc := newTestService()
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "odd@example.com",
			Password:    "password123",
			DisplayName: "Odd Role",
			Role:        "superuser",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, err := svc.store.GetUserByID(ctx, resp.UserID)
		if err != nil {
			t.Fatalf("GetUserByID failed: %v", err)
		}
		if user.Role != "manager" {
			t.Errorf("role = %q, want manager", user.Role)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "priya@meridian.example",
		Password:    "password123",
		DisplayName: "Priya N.",
		Role:        "allocator",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		signInResp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "priya@meridian.example",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signInResp.User.Email != "priya@meridian.example" {
			t.Errorf("unexpected user: %s", signInResp.User.Email)
		}
		if signInResp.RequiresVerify {
			t.Error("expected RequiresVerify to be false for verified user")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "priya@meridian.example",
			Password: "wrongpassword",
		}); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nobody@example.com",
			Password: "password123",
		}); err == nil {
			t.Error("expected error for non-existent user")
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "unverified@example.com",
			Password:    "password123",
			DisplayName: "Unverified User",
		}); err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}

		resp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "unverified@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected RequiresVerify to be true for unverified user")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "priya@meridian.example",
		Password:    "password123",
		DisplayName: "Priya N.",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, _ := svc.store.GetUserByID(ctx, resp.UserID)
		if !user.IsEmailVerified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, "invalid-token"); err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "priya@meridian.example",
		Password:    "password123",
		DisplayName: "Priya N.",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	t.Run("request reset for existing user", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "priya@meridian.example")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		if _, err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		token, _ := svc.RequestPasswordReset(ctx, "priya@meridian.example")

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       token,
			NewPassword: "newpassword123",
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "priya@meridian.example",
			Password: "password123",
		}); err == nil {
			t.Error("expected old password to not work")
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "priya@meridian.example",
			Password: "newpassword123",
		}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "invalid-token",
			NewPassword: "newpassword123",
		}); err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "some-token",
			NewPassword: "short",
		}); err == nil {
			t.Error("expected error for short password")
		}
	})
}
