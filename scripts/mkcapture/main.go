// mkcapture writes a synthetic trace capture for demos and manual testing.
//
// Usage (run from the repo root):
//
//	go run scripts/mkcapture/main.go [output]
//
// Writes a raw capture (default capture.bin) containing a scripted
// workload: three tasks trading the CPU, periodic interrupts, queue and
// semaphore traffic, and heap churn with one deliberate leak. Feed the
// file to the analyzer:
//
//	ASHIATO_INPUT=capture.bin ASHIATO_EXPORT=chrome go run ./cmd/ashiato
//
// The timestamps come from a scripted clock, so the output is
// byte-for-byte reproducible.
package main

import (
	"fmt"
	"os"

	"github.com/ashiato-rt/ashiato/tracer"
)

const (
	idleTask   = 0x2000_0100
	sensorTask = 0x2000_0200
	workerTask = 0x2000_0300

	sensorQueue = 0x2000_1000
	logMutex    = 0x2000_2000
)

func main() {
	out := "capture.bin"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}

	ch := tracer.NewBufferChannel(0)
	clock := &scriptClock{}
	rec, err := tracer.New(ch,
		tracer.WithClock(clock),
		tracer.WithBufferCapacity(64))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create recorder: %v\n", err)
		os.Exit(1)
	}

	rec.RegisterObject(idleTask, "IDLE")
	rec.RegisterObject(sensorTask, "SensorRead")
	rec.RegisterObject(workerTask, "Worker")
	rec.RegisterObject(sensorQueue, "sensorQ")
	rec.Start()

	heap := uint32(0x1000_0000)
	for cycle := 0; cycle < 100; cycle++ {
		// Sensor task wakes, samples, queues the reading.
		rec.Record(tracer.KindTaskSwitchedIn, sensorTask, 0)
		clock.advance(400)
		rec.Record(tracer.KindQueueSend, sensorQueue, 0)
		clock.advance(50)
		rec.Record(tracer.KindTaskSwitchedOut, sensorTask, 0)
		clock.advance(20)

		// Worker drains the queue and does the heavy lifting.
		rec.Record(tracer.KindTaskSwitchedIn, workerTask, 0)
		clock.advance(30)
		rec.Record(tracer.KindQueueReceive, sensorQueue, 0)
		clock.advance(100)
		rec.Record(tracer.KindMalloc, heap, 128)
		clock.advance(1200)

		// A timer interrupt lands mid-computation every fourth cycle.
		if cycle%4 == 0 {
			rec.Record(tracer.KindISREnter, 0, 0)
			clock.advance(90)
			rec.Record(tracer.KindISRExit, 0, 0)
			clock.advance(10)
		}

		rec.Record(tracer.KindMutexTake, logMutex, 0)
		clock.advance(60)
		rec.Record(tracer.KindMutexGive, logMutex, 0)
		clock.advance(40)

		// Every tenth buffer leaks.
		if cycle%10 != 0 {
			rec.Record(tracer.KindFree, heap, 0)
		}
		heap += 0x100
		clock.advance(80)
		rec.Record(tracer.KindTaskSwitchedOut, workerTask, 0)
		clock.advance(15)

		// Idle until the next sensor period.
		rec.Record(tracer.KindTaskSwitchedIn, idleTask, 0)
		clock.advance(2000)
		rec.Record(tracer.KindTaskSwitchedOut, idleTask, 0)
		clock.advance(5)
	}
	rec.Stop()

	data := ch.Bytes()
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", out, err)
		os.Exit(1)
	}

	stats := rec.Stats()
	fmt.Printf("wrote %s (%d bytes, %d events, %d dropped)\n",
		out, len(data), stats.Recorded, stats.DroppedRecords)
}

// scriptClock is a manually advanced cycle counter.
type scriptClock struct {
	now uint32
}

func (c *scriptClock) Cycles() uint32 { return c.now }

func (c *scriptClock) advance(cycles uint32) { c.now += cycles }
