package kvbackend

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/func/seeder/storage"
	"github.com/func/seeder/storage/kvtest"
)

func TestMemory(t *testing.T) {
	kvtest.Run(t, func(*testing.T) (storage.KVBackend, func()) {
		return &Memory{}, func() {}
	})
}

func TestBolt(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) (storage.KVBackend, func()) {
		dir, err := ioutil.TempDir("", "bolt-test")
		if err != nil {
			t.Fatal(err)
		}
		db, err := NewBoltWithFile(filepath.Join(dir, "nested", "state.db"))
		if err != nil {
			t.Fatal(err)
		}
		return db, func() {
			if err := db.Close(); err != nil {
				t.Errorf("close db: %v", err)
			}
			if err := os.RemoveAll(dir); err != nil {
				t.Errorf("remove db dir: %v", err)
			}
		}
	})
}
