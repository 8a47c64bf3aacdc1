package guc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/config"
)

func TestPortCell(t *testing.T) {
	t.Run("DefaultIs8080", func(t *testing.T) {
		port, str := NewPortCell().Get()
		assert.Equal(t, uint16(8080), port)
		assert.Equal(t, "8080", str)
	})

	t.Run("StoresBothForms", func(t *testing.T) {
		c := NewPortCell()
		require.NoError(t, c.Set(9090))
		port, str := c.Get()
		assert.Equal(t, uint16(9090), port)
		assert.Equal(t, "9090", str)
	})

	t.Run("AcceptsBounds", func(t *testing.T) {
		c := NewPortCell()
		require.NoError(t, c.Set(10))
		_, str := c.Get()
		assert.Equal(t, "10", str)

		require.NoError(t, c.Set(65000))
		_, str = c.Get()
		assert.Equal(t, "65000", str)
	})

	t.Run("RejectsOutOfRangeAndKeepsValue", func(t *testing.T) {
		c := NewPortCell()
		for _, v := range []int{9, 0, -1, 65001, 70000} {
			err := c.Set(v)
			var rerr *RangeError
			require.ErrorAs(t, err, &rerr, "value %d", v)
			assert.True(t, errors.Is(err, ErrInvalidValue))
		}
		port, str := c.Get()
		assert.Equal(t, uint16(8080), port)
		assert.Equal(t, "8080", str)
	})
}

func TestRegistry_DefineAndSet(t *testing.T) {
	r := NewRegistry()
	var assigned []int
	require.NoError(t, r.DefineInt(IntVariable{
		Name: "test.int", Default: 5, Min: 1, Max: 10,
		Context: ContextSighup,
		Assign: func(v int) error {
			assigned = append(assigned, v)
			return nil
		},
	}))

	assert.Equal(t, []int{5}, assigned, "default is assigned on define")

	require.NoError(t, r.SetInt("TEST.INT", 7))
	v, err := r.GetInt("test.int")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	// Out of range never reaches the hook.
	err = r.SetInt("test.int", 11)
	var rerr *RangeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []int{5, 7}, assigned)

	assert.ErrorIs(t, r.SetInt("missing", 1), ErrUnknownVariable)
	assert.ErrorIs(t, r.DefineInt(IntVariable{Name: "test.int", Default: 1, Min: 1, Max: 2}), ErrDuplicate)
	assert.ErrorIs(t, r.DefineInt(IntVariable{Name: "bad", Default: 0, Min: 1, Max: 2}), ErrInvalidValue)
}

func TestRegistry_AssignHookError(t *testing.T) {
	r := NewRegistry()
	hookErr := errors.New("refused")
	calls := 0
	require.NoError(t, r.DefineInt(IntVariable{
		Name: "test.int", Default: 1, Min: 1, Max: 10, Context: ContextSighup,
		Assign: func(v int) error {
			calls++
			if v == 3 {
				return hookErr
			}
			return nil
		},
	}))

	assert.ErrorIs(t, r.SetInt("test.int", 3), hookErr)
	v, _ := r.GetInt("test.int")
	assert.Equal(t, 1, v, "failed assign leaves value unchanged")
	assert.Equal(t, 2, calls)
}

func TestRegistry_FreezePostmasterVariable(t *testing.T) {
	r := NewRegistry()
	cell := NewPortCell()
	require.NoError(t, DefineWebVariables(r, cell))

	require.NoError(t, r.SetInt(PortVariable, 9000))
	r.Freeze()
	assert.True(t, r.Frozen())

	assert.NoError(t, r.SetInt(PortVariable, 9000), "same value is accepted")

	err := r.SetInt(PortVariable, 9001)
	require.ErrorIs(t, err, ErrRestartRequired)
	assert.Contains(t, err.Error(), `parameter "pg_web.port" cannot be changed without restarting the server`)

	port, _ := cell.Get()
	assert.Equal(t, uint16(9000), port)
}

func TestRegistry_EnumAndReload(t *testing.T) {
	defer logger.SetLevel("INFO")

	r := NewRegistry()
	cell := NewPortCell()
	require.NoError(t, DefineWebVariables(r, cell))
	r.Freeze()

	// Sighup variables still change after freeze.
	require.NoError(t, r.SetEnum(LogLevelVariable, "debug"))
	shown, err := r.Show(LogLevelVariable)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", shown)
	assert.Equal(t, logger.LevelDebug, logger.GetLevel())

	assert.ErrorIs(t, r.SetEnum(LogLevelVariable, "loud"), ErrInvalidValue)
	assert.ErrorIs(t, r.SetEnum(PortVariable, "x"), ErrTypeMismatch)
	_, err = r.GetInt(LogLevelVariable)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	// A reload that changes the port logs and skips it but applies the rest.
	cfg := config.GetDefaultConfig()
	cfg.Web.Port = 9999
	cfg.Logging.Level = "WARN"
	require.NoError(t, ApplyConfig(r, cfg))

	port, _ := cell.Get()
	assert.Equal(t, uint16(DefaultPort), port)
	shown, _ = r.Show(LogLevelVariable)
	assert.Equal(t, "WARN", shown)
}

func TestRegistry_ReloadReturnsRealErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, DefineWebVariables(r, NewPortCell()))

	err := r.Reload(map[string]int{PortVariable: 5}, nil)
	var rerr *RangeError
	assert.ErrorAs(t, err, &rerr)
}

func TestRegistry_ShowAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, DefineWebVariables(r, NewPortCell()))

	all := r.ShowAll()
	require.Len(t, all, 2)
	assert.Equal(t, LogLevelVariable, all[0].Name)
	assert.Equal(t, PortVariable, all[1].Name)
	assert.Equal(t, "8080", all[1].Value)
	assert.Equal(t, ContextPostmaster, all[1].Context)
	assert.Equal(t, "postmaster", all[1].Context.String())
}
