package schema

import (
	"strings"
	"testing"
)

const validScenarioYAML = `
apiVersion: scenario/v1
meta:
  name: basic-auth
  description: PAP authentication with session validation
  tags: [auth, smoke]
  vars:
    - name: user
      kind: static
      value: alice
    - name: session_id
      kind: random_string
      length: 16
  defaults:
    timeout: 10s
preamble:
  - name: start capture
    command: tcpdump -i eth0 -w /tmp/cap.pcap &
steps:
  - name: authenticate
    kind: radius
    mandatory: true
    radius:
      packet: access-request-pap
      attributes:
        User-Name: ${user}
      expect:
        Session-Timeout: "3600"
  - name: verify session row
    kind: sql
    sql:
      query: SELECT status FROM sessions WHERE username = '${user}'
      expect_column: status
      expect_value: active
`

func TestLoadValidScenario(t *testing.T) {
	sc, err := Load(strings.NewReader(validScenarioYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sc.APIVersion != "scenario/v1" {
		t.Errorf("apiVersion = %q", sc.APIVersion)
	}
	if sc.Meta.Name != "basic-auth" {
		t.Errorf("meta.name = %q", sc.Meta.Name)
	}
	if len(sc.Meta.Vars) != 2 || sc.Meta.Vars[1].Kind != VarRandomString {
		t.Errorf("vars = %+v", sc.Meta.Vars)
	}
	if len(sc.Preamble) != 1 || len(sc.Steps) != 2 {
		t.Fatalf("preamble/steps = %d/%d", len(sc.Preamble), len(sc.Steps))
	}
	if !sc.Steps[0].Mandatory || sc.Steps[0].Radius == nil {
		t.Errorf("step 0 = %+v", sc.Steps[0])
	}
	if sc.Steps[1].SQL.ExpectColumn != "status" {
		t.Errorf("step 1 sql = %+v", sc.Steps[1].SQL)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	doc := `
apiVersion: scenario/v1
meta:
  name: typo
steps:
  - name: s
    kind: log_message
    message: hi
    mesage_typo: oops
`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("unknown field must be rejected by strict decoding")
	}
}

func TestStepIsEnabledDefaultsTrue(t *testing.T) {
	s := Step{Name: "x"}
	if !s.IsEnabled() {
		t.Error("nil Enabled must mean enabled")
	}
	off := false
	s.Enabled = &off
	if s.IsEnabled() {
		t.Error("Enabled=false must mean disabled")
	}
}

func TestLoadTarget(t *testing.T) {
	doc := `
name: lab-db
kind: sql
host: db.lab
port: 5432
user: radius
driver: postgres
database: aaa
jump:
  host: gw.lab
  user: ops
  key_path: ~/.ssh/id_lab
`
	target, err := LoadTarget(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadTarget: %v", err)
	}
	if target.Kind != "sql" || target.Driver != "postgres" {
		t.Errorf("target = %+v", target)
	}
	if target.Jump == nil || target.Jump.Host != "gw.lab" {
		t.Errorf("jump = %+v", target.Jump)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema: %v", err)
	}
	s := string(data)
	for _, want := range []string{"apiVersion", "Scenario", "loop_start", "random_number"} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
