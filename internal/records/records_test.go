package records

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// exerciseRepository runs the shared contract against any backend.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	if _, err := repo.Get(ctx, AnchorID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty repo: err = %v, want ErrNotFound", err)
	}

	roster := Builtin()
	if err := Load(ctx, repo, roster); err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, err := repo.Len(ctx)
	if err != nil || n != len(roster) {
		t.Fatalf("Len = %d, %v; want %d", n, err, len(roster))
	}

	got, err := repo.Get(ctx, AnchorID)
	if err != nil {
		t.Fatalf("Get(%s): %v", AnchorID, err)
	}
	if got.Name != "Darth Sidious" || got.MasterID != "2350" || got.ApprenticeID != "1489" {
		t.Errorf("Get(%s) = %+v", AnchorID, got)
	}

	// Overwrite keeps the original position.
	renamed := roster[0]
	renamed.Name = "Darth Bane the Elder"
	if err := repo.Put(ctx, renamed); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	all, err := repo.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != len(roster) {
		t.Fatalf("All returned %d records after overwrite, want %d", len(all), len(roster))
	}
	if all[0].Name != "Darth Bane the Elder" {
		t.Errorf("all[0] = %+v, want overwritten first record", all[0])
	}
	for i := 1; i < len(roster); i++ {
		if !reflect.DeepEqual(all[i], roster[i]) {
			t.Errorf("all[%d] = %+v, want %+v", i, all[i], roster[i])
		}
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lineage.db")
	repo, err := OpenDSN(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer repo.Close()
	exerciseRepository(t, repo)

	// Reopen sees the persisted rows.
	_ = repo.Close()
	again, err := OpenSQL(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	n, err := again.Len(context.Background())
	if err != nil || n != len(Builtin()) {
		t.Errorf("Len after reopen = %d, %v", n, err)
	}
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("LINEAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LINEAGE_TEST_POSTGRES_DSN not set")
	}
	repo, err := OpenDSN(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer repo.Close()
	if _, err := repo.DB().Exec(`DELETE FROM records`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	exerciseRepository(t, repo)
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "x"); err == nil {
		t.Error("OpenSQL accepted mysql")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	lite := &SQLRepository{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, Builtin()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "id,name,homeworld_id,homeworld,master_id,apprentice_id\n") {
		t.Errorf("header = %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if !reflect.DeepEqual(got, Builtin()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, Builtin())
	}
}

func TestCSVReaderSkipsBadRows(t *testing.T) {
	in := "name,id,apprentice_id\n" +
		"Darth Bane,1,2\n" +
		",2,\n" +
		"Darth Zannah,2\n"
	cr, err := NewCSVReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("NewCSVReader: %v", err)
	}
	var good []Record
	var bad int
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			bad++
			continue
		}
		good = append(good, rec)
	}
	if bad != 1 || len(good) != 2 {
		t.Fatalf("good = %d, bad = %d; want 2, 1", len(good), bad)
	}
	if good[0].ApprenticeID != "2" || good[1].ApprenticeID != "" {
		t.Errorf("good = %+v", good)
	}
}

func TestCSVHeaderRequired(t *testing.T) {
	if _, err := NewCSVReader(strings.NewReader("name,homeworld\nx,y\n")); err == nil {
		t.Error("accepted header without id")
	}
}

func TestBuiltinIsAChain(t *testing.T) {
	roster := Builtin()
	byID := make(map[string]Record, len(roster))
	for _, r := range roster {
		if err := r.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		byID[r.ID] = r
	}
	for _, r := range roster {
		if r.ApprenticeID != "" && byID[r.ApprenticeID].MasterID != r.ID {
			t.Errorf("%s -> %s is not linked back", r.ID, r.ApprenticeID)
		}
	}
	if _, ok := byID[AnchorID]; !ok {
		t.Errorf("anchor %s missing", AnchorID)
	}
}

func TestWorlds(t *testing.T) {
	w := Worlds(Builtin())
	if len(w) != 9 {
		t.Fatalf("len(Worlds) = %d, want 9", len(w))
	}
	if w[0].Name != "Ambria" {
		t.Errorf("first world = %+v, want Ambria", w[0])
	}
}
