package db

import (
	"strings"
	"testing"
)

func TestSchemaIsIdempotent(t *testing.T) {
	if strings.TrimSpace(Schema) == "" {
		t.Fatal("schema not embedded")
	}
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Errorf("statement is not idempotent: %.60s", stmt)
		}
	}
}

func TestSchemaHasExecutorTables(t *testing.T) {
	for _, table := range []string{"campaigns", "contacts", "contact_group_members", "conversations", "linked_accounts", "owner_cooldowns", "outbound_messages"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("missing table %s", table)
		}
	}
}
