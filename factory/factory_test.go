package factory_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/cipher"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/factory"
)

// Account aggregate used through the factory tests
type Account struct {
	eventsourcing.AggregateRoot
	Owner   string
	Balance int
}

type AccountOpened struct {
	Owner string
}

type Deposited struct {
	Amount int
}

func OpenAccount(owner string) *Account {
	account := Account{}
	account.TrackChange(&account, &AccountOpened{Owner: owner})
	return &account
}

func (a *Account) Deposit(amount int) {
	a.TrackChange(a, &Deposited{Amount: amount})
}

func (a *Account) Transition(event eventsourcing.Event) {
	switch e := event.Data().(type) {
	case *AccountOpened:
		a.Owner = e.Owner
	case *Deposited:
		a.Balance += e.Amount
	}
}

func (a *Account) Register(r eventsourcing.RegisterFunc) {
	r(&AccountOpened{}, &Deposited{})
}

func saveAndReload(t *testing.T, app *eventsourcing.Application) {
	t.Helper()
	ctx := context.Background()

	account := OpenAccount("kalle")
	account.Deposit(100)
	account.Deposit(50)
	if err := app.Save(ctx, account); err != nil {
		t.Fatal(err)
	}

	loaded := Account{}
	if err := app.Repository().Get(ctx, account.ID(), &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Balance != 150 || loaded.Owner != "kalle" {
		t.Fatalf("unexpected state after reload: %+v", loaded)
	}
	if loaded.Version() != 3 {
		t.Fatal("expected version 3 got", loaded.Version())
	}
}

func TestDefaultsToMemory(t *testing.T) {
	app, closer, err := factory.New(context.Background(), factory.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	app.Register(&Account{})

	saveAndReload(t, app)
}

func TestSQLiteInMemory(t *testing.T) {
	cfg := factory.Config{Infrastructure: factory.TopicSQLite, SQLiteDBName: factory.InMemoryDBName}
	app, closer, err := factory.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	app.Register(&Account{})

	saveAndReload(t, app)
}

func TestSQLiteFile(t *testing.T) {
	cfg := factory.Config{
		Infrastructure: factory.TopicSQLite,
		SQLiteDBName:   filepath.Join(t.TempDir(), "events.db"),
	}
	app, closer, err := factory.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	app.Register(&Account{})

	saveAndReload(t, app)
}

func TestBBoltFile(t *testing.T) {
	cfg := factory.Config{
		Infrastructure: factory.TopicBBolt,
		BBoltDBName:    filepath.Join(t.TempDir(), "events.db"),
	}
	app, closer, err := factory.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	app.Register(&Account{})

	saveAndReload(t, app)
}

func TestCipherAndCompressorFromConfig(t *testing.T) {
	key, err := cipher.NewDefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := factory.Config{
		CipherTopic:     "cipher:aesgcm",
		CipherKey:       hex.EncodeToString(key),
		CompressorTopic: "compressor:gzip",
	}
	app, closer, err := factory.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	app.Register(&Account{})

	saveAndReload(t, app)

	// the stored state must not leak the owner name
	section, err := app.Log().Section(context.Background(), "1,10")
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range section.Items {
		if bytes.Contains(n.State, []byte("kalle")) {
			t.Fatal("configured cipher did not hide the payload")
		}
	}
}

func TestUnknownInfrastructure(t *testing.T) {
	_, _, err := factory.New(context.Background(), factory.Config{Infrastructure: "recorder:void"})
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatal("expected programming error, got", err)
	}
}

func TestBadCipherKey(t *testing.T) {
	cfg := factory.Config{CipherTopic: "cipher:aesgcm", CipherKey: "not hex"}
	_, _, err := factory.New(context.Background(), cfg)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatal("expected programming error, got", err)
	}
}

func TestUnknownCompressor(t *testing.T) {
	cfg := factory.Config{CompressorTopic: "compressor:snappy"}
	_, _, err := factory.New(context.Background(), cfg)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatal("expected programming error, got", err)
	}
}
