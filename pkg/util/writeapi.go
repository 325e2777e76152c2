package util

import "github.com/influxdata/influxdb-client-go/api/write"

// NopWriteAPI discards every point. It stands in for influx when no host is
// configured.
type NopWriteAPI struct{}

func (m *NopWriteAPI) WriteRecord(line string) {}

func (m *NopWriteAPI) WritePoint(point *write.Point) {}

func (m *NopWriteAPI) Flush() {}

func (m *NopWriteAPI) Close() {}

func (m *NopWriteAPI) Errors() <-chan error { return nil }

// RecordingWriteAPI keeps every point written to it.
type RecordingWriteAPI struct {
	NopWriteAPI
	Points []*write.Point
}

func (m *RecordingWriteAPI) WritePoint(point *write.Point) {
	m.Points = append(m.Points, point)
}
