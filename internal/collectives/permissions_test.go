package collectives

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if migrate {
		if err := db.AutoMigrate(&Collective{}, &Membership{}); err != nil {
			t.Fatalf("failed to migrate schema: %v", err)
		}
	}
	return db
}

func seedCollective(t *testing.T, directory *Directory, id, name, ownerID string) {
	t.Helper()
	err := directory.CreateCollective(context.Background(), Collective{
		ID:      id,
		Slug:    id + "-slug",
		Name:    name,
		OwnerID: ownerID,
	})
	if err != nil {
		t.Fatalf("failed to create collective %s: %v", id, err)
	}
}

func newTestOracle(t *testing.T) (*Oracle, *Directory, *audit.Recorder, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t, true)
	directory, err := NewDirectory(db)
	if err != nil {
		t.Fatalf("failed to build directory: %v", err)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{})
	oracle, err := NewOracle(OracleConfig{Database: db, Recorder: recorder})
	if err != nil {
		t.Fatalf("failed to build oracle: %v", err)
	}
	return oracle, directory, recorder, db
}

func TestValidateRejectsNonMemberCollective(t *testing.T) {
	oracle, directory, recorder, _ := newTestOracle(t)
	seedCollective(t, directory, "g1", "Gardeners", "actor-1")
	seedCollective(t, directory, "g2", "Cyclists", "someone-else")

	result, err := oracle.Validate(context.Background(), "actor-1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected validation to fail")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", result.Errors)
	}
	failure := result.Errors[0]
	if failure.Type != retry.KindPermission || failure.GroupID != "g2" {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if !strings.Contains(failure.Message, "not a member") {
		t.Fatalf("expected not a member message, got %q", failure.Message)
	}
	if failure.GroupName != "Cyclists" {
		t.Fatalf("expected group name to be reported, got %q", failure.GroupName)
	}
	if len(result.Authorized) != 1 || result.Authorized[0].Role != RoleOwner {
		t.Fatalf("expected g1 to be authorized as owner, got %+v", result.Authorized)
	}

	entries := recorder.Entries()
	if len(entries) != 1 || entries[0].Success || entries[0].ErrorKind != retry.KindPermission {
		t.Fatalf("expected a single failed audit entry, got %+v", entries)
	}
}

func TestValidateRejectsInsufficientRole(t *testing.T) {
	oracle, directory, _, db := newTestOracle(t)
	seedCollective(t, directory, "g1", "Gardeners", "owner-1")
	if err := db.Create(&Membership{GroupID: "g1", MemberID: "actor-1", MemberType: "user", Role: "viewer"}).Error; err != nil {
		t.Fatalf("failed to insert legacy membership: %v", err)
	}

	result, err := oracle.Validate(context.Background(), "actor-1", []string{"g1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid || len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Message, "insufficient role") {
		t.Fatalf("expected insufficient role failure, got %+v", result)
	}
}

func TestValidateAcceptsEveryPostingRole(t *testing.T) {
	oracle, directory, _, _ := newTestOracle(t)
	roles := []Role{RoleOwner, RoleAdmin, RoleEditor, RoleAuthor}
	groupIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		groupID := "g-" + string(role)
		seedCollective(t, directory, groupID, string(role), "owner-1")
		if err := directory.SetRole(context.Background(), groupID, "actor-1", role); err != nil {
			t.Fatalf("failed to grant %s: %v", role, err)
		}
		groupIDs = append(groupIDs, groupID)
	}

	result, err := oracle.Validate(context.Background(), "actor-1", groupIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected all roles to be posting-capable, got %+v", result.Errors)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	oracle, directory, _, _ := newTestOracle(t)
	seedCollective(t, directory, "g1", "Gardeners", "actor-1")
	seedCollective(t, directory, "g2", "Cyclists", "someone-else")

	first, err := oracle.Validate(context.Background(), "actor-1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := oracle.Validate(context.Background(), "actor-1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Valid != second.Valid || !reflect.DeepEqual(first.Errors, second.Errors) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestValidateInputFailures(t *testing.T) {
	oracle, _, _, _ := newTestOracle(t)
	testCases := []struct {
		name     string
		actorID  string
		groupIDs []string
		want     string
	}{
		{name: "no-groups", actorID: "actor-1", groupIDs: nil, want: "at least one collective"},
		{name: "blank-groups", actorID: "actor-1", groupIDs: []string{" ", ""}, want: "at least one collective"},
		{name: "missing-actor", actorID: "  ", groupIDs: []string{"g1"}, want: "actor id is required"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := oracle.Validate(context.Background(), testCase.actorID, testCase.groupIDs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Valid || len(result.Errors) != 1 {
				t.Fatalf("expected a single validation error, got %+v", result)
			}
			if result.Errors[0].Type != retry.KindValidation || !strings.Contains(result.Errors[0].Message, testCase.want) {
				t.Fatalf("unexpected error: %+v", result.Errors[0])
			}
		})
	}
}

func TestValidateReportsStoreFailuresAsDatabaseErrors(t *testing.T) {
	db := openTestDatabase(t, false)
	oracle, err := NewOracle(OracleConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build oracle: %v", err)
	}

	_, err = oracle.Validate(context.Background(), "actor-1", []string{"g1"})
	if err == nil {
		t.Fatalf("expected store failure")
	}
	var tagged *retry.Error
	if !errors.As(err, &tagged) || tagged.Kind != retry.KindDatabase {
		t.Fatalf("expected database kind, got %v", err)
	}
}

func TestNormalizeGroupIDsWarnsOnDuplicates(t *testing.T) {
	normalized, warnings := NormalizeGroupIDs([]string{"g1", " g2 ", "g1", ""})
	if !reflect.DeepEqual(normalized, []string{"g1", "g2"}) {
		t.Fatalf("unexpected normalized ids %v", normalized)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
}

func TestValidateNormalizesStoredRoles(t *testing.T) {
	oracle, directory, _, db := newTestOracle(t)
	seedCollective(t, directory, "g1", "Gardeners", "owner-1")
	if err := db.Create(&Membership{GroupID: "g1", MemberID: "actor-1", MemberType: "user", Role: " Editor "}).Error; err != nil {
		t.Fatalf("failed to insert legacy membership: %v", err)
	}

	result, err := oracle.Validate(context.Background(), "actor-1", []string{"g1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid || len(result.Authorized) != 1 || result.Authorized[0].Role != RoleEditor {
		t.Fatalf("expected stored role to parse as editor, got %+v", result)
	}
}
