package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/nanowork/internal/database/postgres"
	"github.com/bardlex/nanowork/internal/database/redis"
)

func TestQueryCmds_StoreNotConfigured(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("INFLUX_TOKEN", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"audit stats", []string{"audit", "stats"}, "POSTGRES_URL"},
		{"audit request", []string{"audit", "request", "req-1"}, "POSTGRES_URL"},
		{"hashrate", []string{"hashrate"}, "INFLUX_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestStatusFields(t *testing.T) {
	fields := statusFields(&redis.RequestStatus{
		RequestID: "req-1",
		Action:    "generate",
		Root:      testRootHex,
		Status:    "queued",
	})

	if len(fields) != 4 {
		t.Fatalf("statusFields() returned %d fields, want 4", len(fields))
	}
	for _, f := range fields {
		if f[0] == "work" || f[0] == "updated_at" {
			t.Errorf("statusFields() included empty field %s", f[0])
		}
	}
}

func TestPrintRecords(t *testing.T) {
	nonce := "4effb6b0cd5625e2"
	errType := "timeout"
	records := []*postgres.WorkRecord{
		{RequestID: "a", Action: "generate", Root: testRootHex, Status: "completed", Work: &nonce, CompletedAt: time.Unix(0, 0)},
		{RequestID: "b", Action: "generate", Root: testRootHex, Status: "failed", ErrorType: &errType, CompletedAt: time.Unix(0, 0)},
	}

	var out bytes.Buffer
	if err := printRecords(&out, "text", records); err != nil {
		t.Fatalf("printRecords() unexpected error: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "\n\n") {
		t.Errorf("records not separated by a blank line:\n%s", text)
	}
	if !strings.Contains(text, nonce) {
		t.Errorf("output missing work %s", nonce)
	}
	if !strings.Contains(text, "error_type") || strings.Count(text, "work ") > 1 {
		t.Errorf("optional fields rendered incorrectly:\n%s", text)
	}
}
