package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "Vestira",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Vestira") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderBranchCreatedTemplate(t *testing.T) {
	data := BranchEventData{
		AppName:        "Vestira",
		RecipientName:  "Mark T.",
		ActorName:      "Priya N.",
		DDQName:        "2026 Core Infrastructure Review",
		ParentQuestion: "What is your fund size?",
		BranchQuestion: "How has fund size changed over the last 3 years?",
	}

	html, err := renderTemplate(branchCreatedEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{"Mark T.", "Priya N.", "2026 Core Infrastructure Review", "What is your fund size?", "How has fund size changed over the last 3 years?"} {
		if !strings.Contains(html, want) {
			t.Errorf("template missing %q", want)
		}
	}
}

func TestRenderClarificationTemplateOmitsEmptyNote(t *testing.T) {
	data := BranchEventData{
		AppName:        "Vestira",
		RecipientName:  "Mark T.",
		ActorName:      "Priya N.",
		DDQName:        "2026 Core Infrastructure Review",
		BranchQuestion: "How many employees by region?",
	}

	html, err := renderTemplate(clarificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<p>Note:</p>") {
		t.Error("empty note should not render a note section")
	}
	if !strings.Contains(html, "needing clarification") {
		t.Error("template should explain the flag")
	}
}
