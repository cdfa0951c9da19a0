package location

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Key is the stable logical name of an actor, e.g. "session/<id>" or "zone/7".
type Key string

func SessionKey(id string) Key { return Key("session/" + id) }
func ZoneKey(id uint32) Key    { return Key("zone/" + strconv.FormatUint(uint64(id), 10)) }
func WorldKey(id string) Key   { return Key("world/" + id) }
func GatewayKey(id string) Key { return Key("gateway/" + id) }

// Address is an opaque handle to a running handler: the node hosting it plus
// the mailbox id on that node. Callers must not cache it across ticks.
type Address struct {
	Node    string
	Mailbox string
}

func NewAddress(node string) Address {
	return Address{Node: node, Mailbox: uuid.NewString()}
}

func (a Address) IsZero() bool { return a.Node == "" && a.Mailbox == "" }

func (a Address) String() string { return fmt.Sprintf("%s/%s", a.Node, a.Mailbox) }

// Directory maps logical keys to addresses. Implementations may be eventually
// consistent; Resolve returns a NotFound LocationError for a miss.
type Directory interface {
	Resolve(ctx context.Context, k Key) (Address, error)
	Register(ctx context.Context, k Key, a Address) error
	Unregister(ctx context.Context, k Key) error
}

// LocalDirectory is the single-node directory. Writes are visible to the next
// Resolve.
type LocalDirectory struct {
	mu sync.RWMutex
	m  map[Key]Address
}

func NewLocalDirectory() *LocalDirectory {
	return &LocalDirectory{m: map[Key]Address{}}
}

func (d *LocalDirectory) Resolve(_ context.Context, k Key) (Address, error) {
	d.mu.RLock()
	a, ok := d.m[k]
	d.mu.RUnlock()
	if !ok {
		return Address{}, notFound(k)
	}
	return a, nil
}

func (d *LocalDirectory) Register(_ context.Context, k Key, a Address) error {
	if k == "" {
		return fmt.Errorf("register: empty key")
	}
	d.mu.Lock()
	d.m[k] = a
	d.mu.Unlock()
	return nil
}

func (d *LocalDirectory) Unregister(_ context.Context, k Key) error {
	d.mu.Lock()
	delete(d.m, k)
	d.mu.Unlock()
	return nil
}

func (d *LocalDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.m)
}
