/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package samples

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeToneWAV encodes a stereo 440Hz tone of n frames at rate
func writeToneWAV(t *testing.T, path string, rate beep.SampleRate, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	pos := 0
	streamer := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n {
			return 0, false
		}
		i := 0
		for ; i < len(samples) && pos < n; i++ {
			v := 0.5 * math.Sin(2*math.Pi*440*float64(pos)/float64(rate))
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return i, true
	})

	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	require.NoError(t, wav.Encode(f, streamer, format))
}

func TestNewBank_Builtins(t *testing.T) {
	bank := NewBank(44100)

	assert.Equal(t, []string{"hh_c", "hh_o", "kick", "ride", "snare", "tabla_ghe1"}, bank.Names())
	assert.Equal(t, 44100.0, bank.SampleRate())

	for _, name := range bank.Names() {
		s, ok := bank.Get(name)
		require.True(t, ok)
		assert.NotEmpty(t, s.Data, name)
		for i, v := range s.Data {
			if v < -1 || v > 1 {
				t.Fatalf("%s sample %d out of range: %f", name, i, v)
			}
		}
	}

	closed, _ := bank.Get("hh_c")
	open, _ := bank.Get("hh_o")
	assert.Less(t, len(closed.Data), len(open.Data), "closed hat is shorter than open hat")
}

func TestBank_AddAndGet(t *testing.T) {
	bank := NewBank(8000)
	bank.Add("click", []float32{1, -1})

	s, ok := bank.Get("click")
	require.True(t, ok)
	assert.Equal(t, []float32{1, -1}, s.Data)

	_, ok = bank.Get("cowbell")
	assert.False(t, ok)
}

func TestBank_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeToneWAV(t, filepath.Join(dir, "tone.wav"), 22050, 2205)
	writeToneWAV(t, filepath.Join(dir, "kick.wav"), 44100, 441)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	bank := NewBank(44100)
	loaded, err := bank.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	tone, ok := bank.Get("tone")
	require.True(t, ok)
	// 0.1s at 22050Hz resampled to 44100Hz
	assert.InDelta(t, 4410, len(tone.Data), 64)

	kick, ok := bank.Get("kick")
	require.True(t, ok)
	assert.Len(t, kick.Data, 441, "a file replaces the built-in with the same name")
}

func TestBank_LoadDirReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeToneWAV(t, filepath.Join(dir, "good.wav"), 44100, 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.wav"), []byte("not a wav"), 0o644))

	bank := NewBank(44100)
	loaded, err := bank.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.wav")
	assert.Equal(t, 1, loaded)

	_, ok := bank.Get("good")
	assert.True(t, ok)
	_, ok = bank.Get("bad")
	assert.False(t, ok)
}

func TestBank_LoadDirEmpty(t *testing.T) {
	bank := NewBank(44100)
	loaded, err := bank.LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
}
