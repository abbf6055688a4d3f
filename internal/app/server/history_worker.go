package server

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"

	"voxline-server-golang/internal/domain/eventbus"
	"voxline-server-golang/internal/domain/store"
	log "voxline-server-golang/logger"
)

// historyWorkerNum is the number of persistence workers. Power of two so
// the call-id hash routes with a mask; same call always lands on the same
// worker, which keeps its message order.
var historyWorkerNum = getHistoryWorkerNum()

func getHistoryWorkerNum() int {
	cpuNum := runtime.NumCPU()
	if cpuNum < 4 {
		return 4
	}
	if cpuNum > 64 {
		return 64
	}
	power := 1
	for power < cpuNum {
		power <<= 1
	}
	return power
}

// historyEvent is the union the workers consume.
type historyEvent struct {
	add *eventbus.AddMessageEvent
	end *eventbus.CallEndEvent
}

// HistoryWorker persists dialogue history off the hot path. It subscribes
// to the bus and routes events by call id onto a fixed worker pool, so
// per-call ordering holds while calls persist in parallel.
type HistoryWorker struct {
	store   store.CallStore
	workers []chan historyEvent
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewHistoryWorker(st store.CallStore) *HistoryWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &HistoryWorker{
		store:   st,
		workers: make([]chan historyEvent, historyWorkerNum),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < historyWorkerNum; i++ {
		w.workers[i] = make(chan historyEvent, 100)
		w.wg.Add(1)
		go w.workerLoop(i)
	}

	bus := eventbus.Get()
	bus.Subscribe(eventbus.TopicAddMessage, w.onAddMessage)
	bus.Subscribe(eventbus.TopicCallEnd, w.onCallEnd)
	log.Infof("history worker started with %d workers", historyWorkerNum)
	return w
}

func (w *HistoryWorker) route(callID string) chan historyEvent {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return w.workers[int(h.Sum32())&(historyWorkerNum-1)]
}

func (w *HistoryWorker) onAddMessage(event *eventbus.AddMessageEvent) {
	if event == nil {
		return
	}
	select {
	case w.route(event.CallID) <- historyEvent{add: event}:
	default:
		log.Warnf("history worker backlog full, dropping message event for call %s", event.CallID)
	}
}

func (w *HistoryWorker) onCallEnd(event *eventbus.CallEndEvent) {
	if event == nil {
		return
	}
	select {
	case w.route(event.CallID) <- historyEvent{end: event}:
	default:
		log.Warnf("history worker backlog full, dropping call end event for call %s", event.CallID)
	}
}

func (w *HistoryWorker) workerLoop(index int) {
	defer w.wg.Done()
	ch := w.workers[index]
	for {
		select {
		case <-w.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-ch:
					w.process(event)
				default:
					return
				}
			}
		case event := <-ch:
			w.process(event)
		}
	}
}

func (w *HistoryWorker) process(event historyEvent) {
	switch {
	case event.end != nil:
		if err := w.store.EndCall(w.ctx, event.end.CallID, event.end.Ended); err != nil && err != store.ErrNotFound {
			log.Errorf("persist call end %s: %v", event.end.CallID, err)
		}
	case event.add != nil:
		w.processAdd(event.add)
	}
}

func (w *HistoryWorker) processAdd(event *eventbus.AddMessageEvent) {
	if event.IsUpdate {
		// Phase two: attach the played audio.
		flat := make([]byte, 0, event.AudioSize)
		for _, frame := range event.AudioData {
			flat = append(flat, frame...)
		}
		err := w.store.UpdateMessageAudio(w.ctx, event.CallID, event.MessageID, flat, event.SampleRate, event.Channels)
		if err != nil && err != store.ErrNotFound {
			log.Errorf("persist message audio %s: %v", event.MessageID, err)
		}
		return
	}

	// Phase one: text only.
	err := w.store.SaveMessage(w.ctx, event.CallID, store.StoredMessage{
		MessageID:  event.MessageID,
		Role:       string(event.Msg.Role),
		Content:    event.Msg.Content,
		ToolCallID: event.Msg.ToolCallID,
		Timestamp:  event.Timestamp,
	})
	if err != nil && err != store.ErrNotFound {
		log.Errorf("persist message %s: %v", event.MessageID, err)
	}
}

// Stop unsubscribes and drains the workers.
func (w *HistoryWorker) Stop() {
	bus := eventbus.Get()
	bus.Unsubscribe(eventbus.TopicAddMessage, w.onAddMessage)
	bus.Unsubscribe(eventbus.TopicCallEnd, w.onCallEnd)
	w.cancel()
	w.wg.Wait()
}
