package file

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/norasector/rxprobe/pkg/sdr"
)

func writeCapture(t *testing.T, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.cs16")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, samples); err != nil {
		t.Fatal(err)
	}
	return path
}

func openStream(t *testing.T, args sdr.Kwargs, format string) (*FileDevice, sdr.Stream) {
	t.Helper()
	dev, err := NewFileDevice(args)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	s, err := dev.SetupStream(sdr.RX, format, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.ActivateStream(s); err != nil {
		t.Fatal(err)
	}
	return dev, s
}

func TestFind(t *testing.T) {
	path := writeCapture(t, []int16{1, 2})
	found, err := Find(sdr.Kwargs{"path": path})
	if err != nil || len(found) != 1 || found[0]["path"] != path {
		t.Errorf("Find() = %v, %v", found, err)
	}
	if found, _ := Find(sdr.Kwargs{}); len(found) != 0 {
		t.Errorf("Find() without path = %v", found)
	}
	if found, _ := Find(sdr.Kwargs{"path": path + ".missing"}); len(found) != 0 {
		t.Errorf("Find() missing file = %v", found)
	}
}

func TestPlaybackCS16(t *testing.T) {
	path := writeCapture(t, []int16{1, -1, 2, -2, 3, -3})
	dev, s := openStream(t, sdr.Kwargs{"path": path}, sdr.FormatCS16)

	buf := make(sdr.CS16Buffer, 4)
	res := dev.ReadStream(context.Background(), s, []sdr.Buffer{buf}, 2, time.Second)
	if res.Ret != 2 || !reflect.DeepEqual(buf, sdr.CS16Buffer{1, -1, 2, -2}) {
		t.Fatalf("first read = %d %v", res.Ret, buf)
	}
	res = dev.ReadStream(context.Background(), s, []sdr.Buffer{buf}, 2, time.Second)
	if res.Ret != 1 || buf[0] != 3 || buf[1] != -3 {
		t.Fatalf("short read = %d %v", res.Ret, buf)
	}
	if got := dev.ReadStream(context.Background(), s, []sdr.Buffer{buf}, 2, time.Second).Ret; got != sdr.ErrCodeStreamError {
		t.Errorf("read past end = %d", got)
	}
}

func TestPlaybackLoopsCF32(t *testing.T) {
	path := writeCapture(t, []int16{16384, -16384})
	dev, s := openStream(t, sdr.Kwargs{"path": path, "loop": "true"}, sdr.FormatCF32)

	buf := make(sdr.CF32Buffer, 1)
	for i := 0; i < 3; i++ {
		res := dev.ReadStream(context.Background(), s, []sdr.Buffer{buf}, 1, time.Second)
		if res.Ret != 1 || buf[0] != complex(0.5, -0.5) {
			t.Fatalf("read %d = %d %v", i, res.Ret, buf[0])
		}
	}
}

func TestPlaybackCS8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cs8")
	if err := os.WriteFile(path, []byte{10, 20, 30, 40, 50, 60}, 0644); err != nil {
		t.Fatal(err)
	}
	dev, s := openStream(t, sdr.Kwargs{"path": path, "capture": "cs8"}, sdr.FormatCF32)

	buf := make(sdr.CF32Buffer, 8)
	if res := dev.ReadStream(context.Background(), s, []sdr.Buffer{buf}, 8, time.Second); res.Ret != 3 {
		t.Errorf("Ret = %d, want 3", res.Ret)
	}
}

func TestRejectsRetune(t *testing.T) {
	path := writeCapture(t, []int16{0, 0})
	dev, err := NewFileDevice(sdr.Kwargs{"path": path, "rate": "480000"})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if err := dev.SetSampleRate(sdr.RX, 0, 240000); !errors.Is(err, sdr.ErrInvalidArgument) {
		t.Errorf("SetSampleRate() = %v", err)
	}
	if err := dev.SetSampleRate(sdr.RX, 0, 480000); err != nil {
		t.Errorf("SetSampleRate(capture rate) = %v", err)
	}
	if _, err := NewFileDevice(sdr.Kwargs{"path": path, "capture": "wav"}); !errors.Is(err, sdr.ErrInvalidArgument) {
		t.Errorf("unknown capture error = %v", err)
	}
}
