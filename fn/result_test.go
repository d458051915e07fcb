package fn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultUnpack(t *testing.T) {
	val, err := Ok(7).Unpack()
	require.NoError(t, err)
	require.Equal(t, 7, val)

	boom := errors.New("boom")
	_, err = Err[int](boom).Unpack()
	require.Equal(t, boom, err)
}

func TestResultIsOkIsErr(t *testing.T) {
	require.True(t, Ok(1).IsOk())
	require.False(t, Ok(1).IsErr())

	require.False(t, Err[int](errors.New("x")).IsOk())
	require.True(t, Err[int](errors.New("x")).IsErr())
}

func TestResultWhenResultAndWhenErr(t *testing.T) {
	var got int
	Ok(5).WhenResult(func(v int) { got = v })
	require.Equal(t, 5, got)

	var called bool
	Ok(5).WhenErr(func(error) { called = true })
	require.False(t, called)

	Err[int](errors.New("x")).WhenErr(func(error) { called = true })
	require.True(t, called)
}

func TestResultMapAndMapErr(t *testing.T) {
	doubled := Ok(3).Map(func(v int) int { return v * 2 })
	val, err := doubled.Unpack()
	require.NoError(t, err)
	require.Equal(t, 6, val)

	original := errors.New("original")
	wrapped := Err[int](original).MapErr(func(e error) error {
		return errors.New("wrapped: " + e.Error())
	})
	_, err = wrapped.Unpack()
	require.EqualError(t, err, "wrapped: original")
}

func TestResultUnwrapOr(t *testing.T) {
	require.Equal(t, 1, Ok(1).UnwrapOr(9))
	require.Equal(t, 9, Err[int](errors.New("x")).UnwrapOr(9))
}

func TestResultUnwrapOrFail(t *testing.T) {
	require.Equal(t, 1, Ok(1).UnwrapOrFail(t))
}

func TestResultAndThenOrElse(t *testing.T) {
	inc := func(v int) Result[int] { return Ok(v + 1) }

	chained := Ok(1).AndThen(inc).AndThen(inc)
	val, err := chained.Unpack()
	require.NoError(t, err)
	require.Equal(t, 3, val)

	fallback := Err[int](errors.New("x")).OrElse(func() Result[int] { return Ok(42) })
	val, err = fallback.Unpack()
	require.NoError(t, err)
	require.Equal(t, 42, val)
}
