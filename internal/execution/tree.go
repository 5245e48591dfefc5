package execution

import (
	"sort"
	"sync"

	"cyclone/internal/commands"
)

type treeNode struct {
	mailbox    *Mailbox
	descriptor *commands.Descriptor
}

// Tree maps live addresses to the mailboxes of running interactive commands.
type Tree struct {
	mu    sync.Mutex
	nodes map[string]treeNode
	addrs map[string]Address
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		nodes: make(map[string]treeNode),
		addrs: make(map[string]Address),
	}
}

// Register makes mailbox reachable at addr.
func (t *Tree) Register(addr Address, mailbox *Mailbox, descriptor *commands.Descriptor) error {
	key := addr.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[key]; exists {
		return &AddressInUseError{Address: addr}
	}
	t.nodes[key] = treeNode{mailbox: mailbox, descriptor: descriptor}
	t.addrs[key] = append(Address(nil), addr...)
	return nil
}

// Lookup returns the mailbox and descriptor live at addr.
func (t *Tree) Lookup(addr Address) (*Mailbox, *commands.Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[addr.Key()]
	if !ok {
		return nil, nil, false
	}
	return node.mailbox, node.descriptor, true
}

// Remove makes addr unreachable. Removing an address that is not live is a no-op.
func (t *Tree) Remove(addr Address) {
	key := addr.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.nodes, key)
	delete(t.addrs, key)
}

// Len returns the number of live addresses.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// Addresses returns every live address, ordered by key.
func (t *Tree) Addresses() []Address {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.addrs))
	for key := range t.addrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	addrs := make([]Address, 0, len(keys))
	for _, key := range keys {
		addrs = append(addrs, t.addrs[key])
	}
	return addrs
}
