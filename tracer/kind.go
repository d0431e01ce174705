package tracer

// Kind identifies the category of a trace event. The numeric values are
// part of the wire format and must not be renumbered.
type Kind uint8

const (
	// Scheduler events.
	KindTaskSwitchedIn  Kind = 0x01
	KindTaskSwitchedOut Kind = 0x02
	KindTaskCreate      Kind = 0x03
	KindTaskDelete      Kind = 0x04
	KindTaskReady       Kind = 0x05
	KindTaskSuspended   Kind = 0x06
	KindTaskResumed     Kind = 0x07

	// Interrupt events. Handle is always 0.
	KindISREnter Kind = 0x10
	KindISRExit  Kind = 0x11

	// Queue events.
	KindQueueCreate  Kind = 0x20
	KindQueueSend    Kind = 0x21
	KindQueueReceive Kind = 0x22

	// Semaphore events.
	KindSemaphoreCreate Kind = 0x30
	KindSemaphoreGive   Kind = 0x31
	KindSemaphoreTake   Kind = 0x32

	// Mutex events.
	KindMutexCreate Kind = 0x40
	KindMutexGive   Kind = 0x41
	KindMutexTake   Kind = 0x42

	// Software timer events.
	KindTimerCreate Kind = 0x50
	KindTimerStart  Kind = 0x51
	KindTimerStop   Kind = 0x52

	// Heap events. Malloc carries handle=address, aux=size; Free carries
	// handle=address and aux=size when the caller knows it.
	KindMalloc Kind = 0x60
	KindFree   Kind = 0x61
)

var kindNames = map[Kind]string{
	KindTaskSwitchedIn:  "TASK_SWITCHED_IN",
	KindTaskSwitchedOut: "TASK_SWITCHED_OUT",
	KindTaskCreate:      "TASK_CREATE",
	KindTaskDelete:      "TASK_DELETE",
	KindTaskReady:       "TASK_READY",
	KindTaskSuspended:   "TASK_SUSPENDED",
	KindTaskResumed:     "TASK_RESUMED",
	KindISREnter:        "ISR_ENTER",
	KindISRExit:         "ISR_EXIT",
	KindQueueCreate:     "QUEUE_CREATE",
	KindQueueSend:       "QUEUE_SEND",
	KindQueueReceive:    "QUEUE_RECEIVE",
	KindSemaphoreCreate: "SEMAPHORE_CREATE",
	KindSemaphoreGive:   "SEMAPHORE_GIVE",
	KindSemaphoreTake:   "SEMAPHORE_TAKE",
	KindMutexCreate:     "MUTEX_CREATE",
	KindMutexGive:       "MUTEX_GIVE",
	KindMutexTake:       "MUTEX_TAKE",
	KindTimerCreate:     "TIMER_CREATE",
	KindTimerStart:      "TIMER_START",
	KindTimerStop:       "TIMER_STOP",
	KindMalloc:          "MALLOC",
	KindFree:            "FREE",
}

// String returns the stable event name used on export surfaces
// (e.g. "TASK_SWITCHED_IN"). Unknown kinds format as "UNKNOWN_0xNN".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN_0x" + hexByte(uint8(k))
}

// Valid reports whether k is a known event kind. The decoder uses this to
// distinguish record bytes from garbage when resynchronizing.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Kinds returns all known kinds in ascending wire order.
func Kinds() []Kind {
	ks := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		ks = append(ks, k)
	}
	for i := 1; i < len(ks); i++ {
		for j := i; j > 0 && ks[j-1] > ks[j]; j-- {
			ks[j-1], ks[j] = ks[j], ks[j-1]
		}
	}
	return ks
}

const hexDigits = "0123456789ABCDEF"

func hexByte(b uint8) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}
