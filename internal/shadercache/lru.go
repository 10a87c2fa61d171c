package shadercache

// lruNode is a node of the per-shard recency list. It stores the key so the
// oldest entry can be deleted from the shard map.
type lruNode struct {
	key  uint64
	prev *lruNode
	next *lruNode
}

// lruList is a doubly-linked list, most recently used first. It is not
// thread-safe; the owning shard holds its lock.
type lruList struct {
	head *lruNode
	tail *lruNode
	len  int
}

func (l *lruList) pushFront(key uint64) *lruNode {
	n := &lruNode{key: key, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
	return n
}

func (l *lruList) moveToFront(n *lruNode) {
	if n == l.head {
		return
	}
	l.unlink(n)
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
}

func (l *lruList) removeOldest() (uint64, bool) {
	if l.tail == nil {
		return 0, false
	}
	n := l.tail
	l.unlink(n)
	return n.key, true
}

func (l *lruList) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}
