package schema

import (
	"strings"
	"testing"
)

func TestRewriteDDLStripDefiner(t *testing.T) {
	ddl := "CREATE DEFINER=`root`@`localhost` VIEW `v1` AS SELECT 1"
	rewritten, issues := RewriteDDL(ddl, CompatibilityOptions{StripDefiners: true})
	if strings.Contains(rewritten, "DEFINER") {
		t.Fatalf("DEFINER not stripped: %q", rewritten)
	}
	if len(issues) != 1 || issues[0].Rewrite != "strip_definers" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestRewriteDDLEnforceIfNotExists(t *testing.T) {
	ddl := "CREATE TABLE `t1` (`id` INT)"
	rewritten, issues := RewriteDDL(ddl, CompatibilityOptions{})
	if !strings.Contains(rewritten, "IF NOT EXISTS") {
		t.Fatalf("IF NOT EXISTS not added: %q", rewritten)
	}
	if len(issues) != 1 || issues[0].Rewrite != "create_if_not_exists" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestRewriteDDLIdempotentWhenAlreadyCompliant(t *testing.T) {
	ddl := "CREATE TABLE IF NOT EXISTS `t1` (`id` INT)"
	rewritten, issues := RewriteDDL(ddl, CompatibilityOptions{})
	if rewritten != ddl {
		t.Fatalf("ddl changed unexpectedly: %q", rewritten)
	}
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestMDSCompatibilityStripsStorageEngineAndTablespace(t *testing.T) {
	ddl := "CREATE TABLE `t1` (`id` INT) ENGINE=InnoDB TABLESPACE=ts1"
	rewritten, issues := RewriteDDL(ddl, CompatibilityOptions{MDSCompatibility: true})
	if strings.Contains(rewritten, "ENGINE") || strings.Contains(rewritten, "TABLESPACE") {
		t.Fatalf("clauses not stripped: %q", rewritten)
	}
	if len(issues) < 2 {
		t.Fatalf("expected at least 2 issues, got %+v", issues)
	}
}
