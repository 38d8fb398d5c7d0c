//go:build linux

// File: fdtable/fdtable_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fdtable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/fdtable"
)

func TestSocketSwitchedToNonblocking(t *testing.T) {
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(sv[0])
	defer unix.Close(sv[1])

	m := fdtable.NewManager()
	assert.Nil(t, m.Get(sv[0], false))
	c := m.Get(sv[0], true)
	require.NotNil(t, c)
	assert.True(t, c.Initialized())
	assert.True(t, c.IsSocket())
	assert.True(t, c.SysNonblock())
	assert.False(t, c.UserNonblock())
	assert.Same(t, c, m.Get(sv[0], false))

	flags, err := unix.FcntlInt(uintptr(sv[0]), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)

	m.Del(sv[0])
	assert.Nil(t, m.Get(sv[0], false))
}

func TestPipeIsNotSocket(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	c := fdtable.NewManager().Get(p[0], true)
	assert.True(t, c.Initialized())
	assert.False(t, c.IsSocket())
	assert.False(t, c.SysNonblock())
}

func TestTimeoutsAndGrowth(t *testing.T) {
	m := fdtable.NewManager()
	// Closed descriptor numbers still get an entry, just not initialized.
	c := m.Get(1000, true)
	require.NotNil(t, c)
	assert.False(t, c.Initialized())
	assert.Equal(t, fdtable.NoTimeout, c.Timeout(fdtable.RecvTimeout))
	assert.Equal(t, fdtable.NoTimeout, c.Timeout(fdtable.SendTimeout))

	c.SetTimeout(fdtable.RecvTimeout, 2*time.Second)
	c.SetTimeout(fdtable.SendTimeout, 0)
	assert.Equal(t, 2*time.Second, c.Timeout(fdtable.RecvTimeout))
	assert.Equal(t, fdtable.NoTimeout, c.Timeout(fdtable.SendTimeout))
	assert.Nil(t, m.Get(-1, true))
	assert.Equal(t, "recv", fdtable.RecvTimeout.String())
}
