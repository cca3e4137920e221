package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"cosflow/internal/api"
	"cosflow/internal/daemon"
	"cosflow/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	contents := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[auth]
jwt_secret = %q
`, filepath.Join(base, "data"), filepath.Join(base, "logs"), testsupport.TestJWTSecret)
	if err := os.WriteFile(configPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{baseDir: base, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("cosflow %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *cliTestEnv) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (e *cliTestEnv) seed(t *testing.T) {
	t.Helper()
	seed := fmt.Sprintf(`users:
  - {id: 1, username: admin, full_name: Site Admin, role: admin}
  - {id: 10, username: issuer, full_name: Ina Issuer, role: issuer}
  - {id: 20, username: checker, full_name: Cahya Checker, role: checker}
  - {id: 30, username: approver, full_name: Adi Approver, role: approver}
operators:
  - nik: "1001"
    name: Budi
    line: L1
    certificates:
      - base64: %s
`, base64.StdEncoding.EncodeToString(testsupport.PDF(t, 1)))
	out := e.mustRun(t, "seed", e.writeFile(t, "seed.yaml", []byte(seed)))
	if !strings.Contains(out, "Seeded 4 users, 1 operators, 1 new certificates") {
		t.Fatalf("unexpected seed output: %s", out)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "new", "config.toml")

	out := env.mustRun(t, "config", "init", "--path", target)
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init to fail without --overwrite")
	}
	env.mustRun(t, "config", "init", "--path", target, "--overwrite")
}

func TestConfigShowMasksSecret(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "config", "show")
	if strings.Contains(out, testsupport.TestJWTSecret) {
		t.Fatalf("secret leaked in output:\n%s", out)
	}
	if !strings.Contains(out, "********") {
		t.Fatalf("expected masked secret:\n%s", out)
	}
}

func TestDoctorAfterSeed(t *testing.T) {
	env := setupCLITestEnv(t)
	if out, err := env.run(t, "doctor"); err == nil {
		t.Fatalf("expected doctor to fail before seeding:\n%s", out)
	}
	env.seed(t)
	out := env.mustRun(t, "doctor")
	if strings.Contains(out, "[ERROR]") {
		t.Fatalf("unexpected failing check:\n%s", out)
	}
}

func TestTokenCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed(t)

	out := env.mustRun(t, "token", "20")
	claims, err := daemon.ParseToken(testsupport.TestJWTSecret, strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 20 || claims.RoleID != 5 {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := env.run(t, "token", "999"); err == nil {
		t.Fatal("expected unknown user to fail")
	}
}

func TestWorkflowThroughCLI(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed(t)

	if _, err := env.run(t, "group", "create", "COS-001", "--as", "999"); err == nil {
		t.Fatal("expected unknown acting user to fail")
	}
	out := env.mustRun(t, "group", "create", "COS-001", "--as", "10", "--operator", "1")
	if !strings.Contains(out, "Created group COS-001 (Draft)") {
		t.Fatalf("unexpected create output: %s", out)
	}

	pdf := testsupport.PDF(t, 1)
	out = env.mustRun(t, "group", "upload", "COS-001", "--as", "10",
		"COS="+env.writeFile(t, "cos.pdf", pdf),
		"pfm="+env.writeFile(t, "pfm.pdf", pdf),
		"WGS="+env.writeFile(t, "wgs.pdf", pdf),
		"MO="+env.writeFile(t, "mo.pdf", pdf),
	)
	if !strings.Contains(out, "Stored 4 documents in COS-001 (Complete - Ready to Approve)") {
		t.Fatalf("unexpected upload output: %s", out)
	}
	if !strings.Contains(out, "Merged 5 fragments, 5 pages") {
		t.Fatalf("expected certificate in merge: %s", out)
	}

	out = env.mustRun(t, "--json", "group", "show", "COS-001")
	var detail api.GroupDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("decode group detail: %v\n%s", err, out)
	}
	if len(detail.Documents) != 4 || len(detail.Operators) != 1 || detail.Merged == nil || len(detail.Missing) != 0 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	exported := filepath.Join(env.baseDir, "merged.pdf")
	env.mustRun(t, "group", "export", "COS-001", "-o", exported)
	if data, err := os.ReadFile(exported); err != nil || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected exported pdf, err=%v", err)
	}

	if out := env.mustRun(t, "available"); !strings.Contains(out, "COS-001") {
		t.Fatalf("expected COS-001 available:\n%s", out)
	}

	out = env.mustRun(t, "circulation", "start", "COS-001", "--as", "10", "--check", "20", "--approve", "30")
	if !strings.Contains(out, "Waiting Checker") {
		t.Fatalf("unexpected start output:\n%s", out)
	}
	if _, err := env.run(t, "circulation", "start", "COS-001", "--as", "10", "--check", "20"); err == nil {
		t.Fatal("expected second circulation start to fail")
	}

	out = env.mustRun(t, "circulation", "complete", "COS-001", "--as", "20")
	if !strings.Contains(out, "Waiting Approval") {
		t.Fatalf("unexpected complete output:\n%s", out)
	}

	out = env.mustRun(t, "revision", "request", "COS-001", "--as", "30", "-d", "signature missing on page 2")
	if !strings.Contains(out, "Revision 1 sent to user 10") {
		t.Fatalf("unexpected revision output: %s", out)
	}
	if out := env.mustRun(t, "revision", "list", "COS-001"); !strings.Contains(out, "signature missing") {
		t.Fatalf("expected revision listed:\n%s", out)
	}
	if _, err := env.run(t, "circulation", "complete", "COS-001", "--as", "30"); err == nil {
		t.Fatal("expected completion to fail while a revision is outstanding")
	}
	env.mustRun(t, "revision", "resolve", "1", "--as", "10")

	if out := env.mustRun(t, "assigned", "30"); !strings.Contains(out, "APPROVE") {
		t.Fatalf("expected approve task assigned:\n%s", out)
	}
	out = env.mustRun(t, "circulation", "complete", "COS-001", "--as", "30")
	if !strings.Contains(out, "Completed") {
		t.Fatalf("unexpected final output:\n%s", out)
	}
	if out := env.mustRun(t, "circulation", "list"); !strings.Contains(out, "Completed") {
		t.Fatalf("expected completed circulation in list:\n%s", out)
	}
}

func TestUploadRejectsMalformedSpec(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed(t)
	if _, err := env.run(t, "group", "upload", "COS-001", "--as", "10", "COS"); err == nil {
		t.Fatal("expected TYPE=path parse error")
	}
}

func TestLogsCommandFiltersByGroup(t *testing.T) {
	env := setupCLITestEnv(t)
	logDir := filepath.Join(env.baseDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := strings.Join([]string{
		`{"level":"INFO","component":"lifecycle","group_id":"COS-001","msg":"group created"}`,
		`{"level":"INFO","component":"lifecycle","group_id":"COS-002","msg":"group created"}`,
		`{"level":"WARN","component":"lifecycle","group_id":"COS-002","msg":"merge failed"}`,
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(logDir, "cosflow.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out := env.mustRun(t, "logs", "--group", "COS-002")
	if strings.Contains(out, "COS-001") || strings.Count(out, "COS-002") != 2 {
		t.Fatalf("unexpected filtered output:\n%s", out)
	}
	out = env.mustRun(t, "logs", "-n", "1")
	if !strings.Contains(out, "merge failed") || strings.Contains(out, "group created") {
		t.Fatalf("unexpected tail output:\n%s", out)
	}
}

func TestWriteJSONRendersEmptyListsAndRawNames(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	var none []api.Circulation
	if err := writeJSON(cmd, none); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Fatalf("expected empty list, got %q", out.String())
	}

	out.Reset()
	if err := writeJSON(cmd, map[string]string{"fileName": "Q&A <draft>.pdf"}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !strings.Contains(out.String(), `"Q&A <draft>.pdf"`) {
		t.Fatalf("expected unescaped file name, got %s", out.String())
	}
}
