package risk

import (
	"testing"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

func TestBaseRisk(t *testing.T) {
	tests := []struct {
		tool string
		want int
	}{
		{"shell", 60},
		{"bash", 60},
		{"http_request", 30},
		{"fetch", 30},
		{"file_write", 40},
		{"file_read", 15},
		{"messaging_send", 25},
		{"database_query", 35},
		{"file_delete", 55},
		{"never_heard_of_it", 20},
	}
	for _, tt := range tests {
		if got := BaseRisk(tt.tool); got != tt.want {
			t.Errorf("BaseRisk(%q) = %d, want %d", tt.tool, got, tt.want)
		}
	}
}

func TestEstimate_Bonuses(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		tool string
		args action.Value
		flat string
		want int
	}{
		{
			"plain shell",
			"shell",
			action.MapOf(action.F("command", action.String("ls -la"))),
			"command ls -la",
			60,
		},
		{
			"credential keyword",
			"file_read",
			action.MapOf(action.F("path", action.String("/etc/secrets/api_key.txt"))),
			"path /etc/secrets/api_key.txt",
			15 + 25,
		},
		{
			"destructive shell capped at 100",
			"shell",
			action.MapOf(action.F("command", action.String("sudo rm -rf / && shutdown"))),
			"command sudo rm -rf / && shutdown password",
			100, // 60 + 30 destructive + 25 credential caps
		},
		{
			"token prefix counts as credential",
			"http_request",
			action.Value{},
			"authorization sk-abcdefghijklmnop",
			30 + 25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Estimate(tt.tool, tt.args, tt.flat)
			if got.Total != tt.want {
				t.Errorf("Estimate() total = %d (base %d bonus %d, reasons %v), want %d",
					got.Total, got.Base, got.Bonus, got.Reasons, tt.want)
			}
		})
	}
}

func TestEstimate_RecipientCardinality(t *testing.T) {
	e := NewEstimator()

	many := make([]action.Value, 10)
	for i := range many {
		many[i] = action.String("user@example.com")
	}
	args := action.MapOf(action.F("recipients", action.ListOf(many...)))

	got := e.Estimate("messaging_send", args, "recipients user@example.com")
	// 25 base + 15 recipients + 15 external domain would need an allowlist;
	// without one only the cardinality bonus applies on top of credentials=no.
	if got.Total != 25+15 {
		t.Errorf("Estimate() total = %d, want %d", got.Total, 25+15)
	}

	few := action.MapOf(action.F("to", action.ListOf(many[:9]...)))
	got = e.Estimate("messaging_send", few, "to user@example.com")
	if got.Total != 25 {
		t.Errorf("Estimate() with 9 recipients = %d, want 25", got.Total)
	}
}

func TestEstimate_ExternalDomainNeedsAllowlist(t *testing.T) {
	flat := "url https://evil.example/ingest"

	if got := NewEstimator().Estimate("http_request", action.Value{}, flat); got.Total != 30 {
		t.Errorf("no allowlist: total = %d, want 30", got.Total)
	}

	e := NewEstimator(WithInternalDomains([]string{"corp.internal"}))
	if got := e.Estimate("http_request", action.Value{}, flat); got.Total != 30+15 {
		t.Errorf("external domain: total = %d, want 45", got.Total)
	}

	internal := "url https://api.corp.internal/v1"
	if got := e.Estimate("http_request", action.Value{}, internal); got.Total != 30 {
		t.Errorf("internal domain: total = %d, want 30", got.Total)
	}
}

func TestEstimate_FilenamesAreNotDomains(t *testing.T) {
	e := NewEstimator(WithInternalDomains([]string{"corp.internal"}))
	got := e.Estimate("file_write", action.Value{}, "path notes.txt contents hello")
	if got.Total != 40 {
		t.Errorf("filename treated as domain: total = %d, want 40", got.Total)
	}
}

func TestClassify_Predicates(t *testing.T) {
	if !Classify("http_request").IsSend() || !Classify("send_message").IsSend() {
		t.Error("http and messaging should be sends")
	}
	if Classify("file_read").IsSend() {
		t.Error("file_read is not a send")
	}
	if !Classify("file_read").IsRead() || !Classify("env_read").IsRead() {
		t.Error("file_read and env_read should be reads")
	}
	if !Classify("file_write").IsWrite() || !Classify("delete_file").IsWrite() {
		t.Error("file_write and delete_file should be writes")
	}
}
