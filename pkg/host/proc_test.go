package host

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProc_HooksRunInReverseOnce(t *testing.T) {
	p := NewProc()

	var order []int
	for i := 1; i <= 3; i++ {
		p.OnExit(func() { order = append(order, i) })
	}

	p.RunExitHooks()
	p.RunExitHooks()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestProc_ExitOnce(t *testing.T) {
	p := NewProc()

	var codes []int
	var mu sync.Mutex
	p.SetExitFunc(func(code int) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	})

	hooks := 0
	p.OnExit(func() { hooks++ })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Exit(0)
		}()
	}
	wg.Wait()
	p.Exit(1)

	assert.Equal(t, []int{0}, codes)
	assert.Equal(t, 1, hooks)
}

func TestProc_FatalExitsWithOne(t *testing.T) {
	p := NewProc()

	code := -1
	p.SetExitFunc(func(c int) { code = c })

	cleaned := false
	p.OnExit(func() { cleaned = true })

	p.Fatal("query returned no rows", "query", "SELECT now()")

	assert.Equal(t, 1, code)
	assert.True(t, cleaned)
}

func TestInheritedHostDeathFD(t *testing.T) {
	t.Setenv(HostDeathFDEnv, "")
	_, ok := InheritedHostDeathFD()
	assert.False(t, ok)

	t.Setenv(HostDeathFDEnv, "3")
	fd, ok := InheritedHostDeathFD()
	assert.True(t, ok)
	assert.Equal(t, 3, fd)

	t.Setenv(HostDeathFDEnv, "three")
	_, ok = InheritedHostDeathFD()
	assert.False(t, ok)
}
