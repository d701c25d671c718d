package pcapwriter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/lapd"
	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Record is one Q.931 message to dump.
type Record struct {
	Data      []byte
	TEI       uint8
	Outgoing  bool
	Timestamp time.Time
}

// Writer dumps Q.931 messages to a Linux LAPD pcap file
type Writer struct {
	filePath     string
	network      bool
	file         *os.File
	writer       *pcapgo.Writer
	recordChan   chan Record
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.Mutex
	closed       atomic.Bool
	syncTicker   *time.Ticker
	seq          map[uint8]*sequence
	packetCount  int64
	bytesWritten int64
}

// sequence holds the I frame counters of one TEI.
type sequence struct {
	sent, received uint8
}

// Config for PCAP writer
type Config struct {
	FilePath     string        // Path to PCAP file
	BufferSize   int           // Channel buffer size
	SyncInterval time.Duration // How often to sync to disk
	Network      bool          // Capturing side is the network side
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   1000,
		SyncInterval: 5 * time.Second,
	}
}

// New creates a new PCAP writer
func New(config *Config) (*Writer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}

	file, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCAP file: %w", err)
	}

	pcapWriter := pcapgo.NewWriter(file)
	if err := pcapWriter.WriteFileHeader(65536, lapd.LinkTypeLinuxLAPD); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		filePath:   config.FilePath,
		network:    config.Network,
		file:       file,
		writer:     pcapWriter,
		recordChan: make(chan Record, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		syncTicker: time.NewTicker(config.SyncInterval),
		seq:        make(map[uint8]*sequence),
	}

	// Start write loop
	w.wg.Add(1)
	go w.writeLoop()

	logger.Info("Created PCAP writer", "file", config.FilePath, "buffer_size", config.BufferSize)

	return w, nil
}

// WriteMessage queues a Q.931 message (non-blocking)
func (w *Writer) WriteMessage(data []byte, tei uint8, outgoing bool) error {
	return w.WriteRecord(Record{
		Data:      append([]byte(nil), data...),
		TEI:       tei,
		Outgoing:  outgoing,
		Timestamp: time.Now(),
	})
}

// WriteRecord queues a record (non-blocking)
func (w *Writer) WriteRecord(rec Record) error {
	if w.closed.Load() {
		return fmt.Errorf("writer is closed")
	}

	select {
	case w.recordChan <- rec:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("writer context cancelled")
	default:
		// Channel full - drop record
		logger.Warn("Record dropped due to full write buffer", "file", w.filePath)
		return fmt.Errorf("write buffer full")
	}
}

// writeLoop is the main record writing goroutine
func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec, ok := <-w.recordChan:
			if !ok {
				return
			}
			if err := w.writeRecordToFile(rec); err != nil {
				logger.Error("Failed to write record", "error", err, "file", w.filePath)
			}

		case <-w.syncTicker.C:
			w.mu.Lock()
			if w.file != nil {
				w.file.Sync()
			}
			w.mu.Unlock()

		case <-w.ctx.Done():
			w.drainRecords()
			return
		}
	}
}

// frame wraps rec into a LAPD frame and advances the I frame counters.
func (w *Writer) frame(rec Record) []byte {
	s, ok := w.seq[rec.TEI]
	if !ok {
		s = &sequence{}
		w.seq[rec.TEI] = s
	}
	h := lapd.Header{TEI: rec.TEI, Network: w.network, Outgoing: rec.Outgoing}
	if rec.Outgoing {
		h.NS, h.NR = s.sent, s.received
	} else {
		h.NS, h.NR = s.received, s.sent
	}
	if rec.TEI != lapd.BroadcastTEI {
		if rec.Outgoing {
			s.sent = (s.sent + 1) & 0x7f
		} else {
			s.received = (s.received + 1) & 0x7f
		}
	}
	return lapd.Encode(h, rec.Data)
}

// writeRecordToFile writes a single record to the file
func (w *Writer) writeRecordToFile(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := w.frame(rec)
	ci := gopacket.CaptureInfo{
		Timestamp:     rec.Timestamp,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	atomic.AddInt64(&w.packetCount, 1)
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))

	return nil
}

// drainRecords drains any remaining records in the channel
func (w *Writer) drainRecords() {
	for {
		select {
		case rec, ok := <-w.recordChan:
			if !ok {
				return
			}
			if err := w.writeRecordToFile(rec); err != nil {
				logger.Warn("Failed to write record during drain", "error", err)
			}
		default:
			return
		}
	}
}

// Close closes the writer and flushes all pending records
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil // Already closed
	}

	logger.Info("Closing PCAP writer", "file", w.filePath)

	// Cancel context to stop write loop
	w.cancel()

	// Close record channel
	close(w.recordChan)

	// Wait for write loop to finish
	w.wg.Wait()

	// Stop sync ticker
	w.syncTicker.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			logger.Warn("Failed to sync PCAP file", "error", err, "file", w.filePath)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close PCAP file: %w", err)
		}
		w.file = nil
	}

	logger.Info("Closed PCAP writer",
		"file", w.filePath,
		"packets", atomic.LoadInt64(&w.packetCount),
		"bytes", atomic.LoadInt64(&w.bytesWritten))

	return nil
}

// Stats returns current writer statistics
func (w *Writer) Stats() (packetCount, bytesWritten int64) {
	return atomic.LoadInt64(&w.packetCount), atomic.LoadInt64(&w.bytesWritten)
}

// FilePath returns the file path being written to
func (w *Writer) FilePath() string {
	return w.filePath
}
