package core

import "github.com/google/uuid"

// IDGen mints identifiers for tasks, agents, sessions and checkpoints.
// Wrapping uuid.New() behind an interface (rather than calling it
// directly everywhere, as the teacher's core/agent.go does inline) lets
// tests substitute sequential IDs for readable assertions.
type IDGen interface {
	NewID(prefix string) string
}

// UUIDGen is the production IDGen, grounded on the teacher's
	// `fmt.Sprintf("%s-%s", config.Name, uuid.New().String()[:8])` pattern
// in core/agent.go, generalized to an arbitrary prefix.
type UUIDGen struct{}

func (UUIDGen) NewID(prefix string) string {
	id := uuid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// SequentialGen is a deterministic IDGen for tests.
type SequentialGen struct {
	n int
}

func (s *SequentialGen) NewID(prefix string) string {
	s.n++
	if prefix == "" {
		prefix = "id"
	}
	return prefix + "-seq-" + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
