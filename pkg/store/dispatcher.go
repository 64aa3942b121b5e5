package store

import (
	"log"
	"time"

	"github.com/neurogrid/gpukv/pkg/backend"
	"github.com/neurogrid/gpukv/pkg/queue"
)

// hostSpinBudget bounds the host worker's busy-wait before it briefly sleeps
// to free CPU cycles. No condition variables in the hot path.
const (
	hostSpinBudget = 1024
	hostIdleSleep  = 20 * time.Microsecond
)

func hostWait(attempt func() bool) {
	for spins := 0; !attempt(); spins++ {
		if spins >= hostSpinBudget {
			time.Sleep(hostIdleSleep)
		}
	}
}

// serveBlock is the host worker loop for one block: pop a request batch,
// execute it against the engine, publish the completion, repeat until EXIT.
func (s *KVStore) serveBlock(bi int) {
	defer s.workers.Done()

	sqc := s.sqs[bi].Consumer()
	cqp := s.cqs[bi].Producer()
	tickets := s.tickets[bi]

	for {
		var idx uint32
		hostWait(func() bool {
			var ok bool
			idx, ok = sqc.Pop()
			return ok
		})
		req := *sqc.Slot(idx)
		if req.IncrementSize == 0 {
			req.IncrementSize = 1
		}
		hostWait(func() bool {
			return cqp.Push(req.IncrementSize, func(lead uint32, res *queue.ResponseMessage) {
				s.process(sqc, cqp, tickets, idx, &req, lead, res)
			})
		})
		if req.Cmd == queue.CmdExit {
			return
		}
	}
}

// process interprets one dequeued command and fills the completion slot.
// GET payloads are written into the completion bank at the reserved counters;
// per-key statuses land in the leading response slot.
func (s *KVStore) process(sqc *queue.SQConsumer, cqp *queue.CQProducer, tickets *ticketTable, idx uint32, req *queue.RequestMessage, lead uint32, res *queue.ResponseMessage) {
	n := int(req.IncrementSize)

	switch req.Cmd {
	case queue.CmdPut, queue.CmdMultiPut:
		s.pool.Run(n, func(k int) {
			slot := sqc.Slot(idx + uint32(k))
			code := s.engine.Put(slot.Key[:slot.KeySize], sqc.Bank().HostSlot(idx+uint32(k))[:slot.BuffSize])
			res.Engine[k] = int32(code)
			res.Status[k] = s.decode(req.Cmd, req.RequestID, code)
		})
		s.stats.puts.Add(int64(n))

	case queue.CmdGet, queue.CmdMultiGet:
		s.pool.Run(n, func(k int) {
			slot := sqc.Slot(idx + uint32(k))
			dst := cqp.Bank().HostSlot(lead + uint32(k))[:slot.BuffSize]
			_, code := s.engine.Get(slot.Key[:slot.KeySize], dst)
			res.Engine[k] = int32(code)
			res.Status[k] = s.decode(req.Cmd, req.RequestID, code)
		})
		s.stats.gets.Add(int64(n))

	case queue.CmdDelete:
		for k := 0; k < n; k++ {
			slot := sqc.Slot(idx + uint32(k))
			code := s.engine.Delete(slot.Key[:slot.KeySize])
			res.Engine[k] = int32(code)
			res.Status[k] = s.decode(req.Cmd, req.RequestID, code)
		}
		s.stats.deletes.Add(int64(n))

	case queue.CmdAsyncGetInitiate:
		s.processAsyncInitiate(sqc, tickets, req, lead, res)

	case queue.CmdAsyncGetFinalize:
		if f, ok := tickets.take(req.Ticket); ok {
			f.Wait()
		} else {
			log.Printf("%s request %d: unknown ticket %d", req.Cmd, req.RequestID, req.Ticket)
		}
		s.stats.asyncFinalizes.Add(1)

	case queue.CmdExit:
		res.Status[0] = queue.StatusExit

	default:
		log.Printf("unknown command %d in request %d", req.Cmd, req.RequestID)
		res.Status[0] = queue.StatusFail
		s.stats.failures.Add(1)
	}
}

// processAsyncInitiate spawns the GET loop on the thread pool and records the
// ticket. The completion publishes immediately; the ticket is the completion
// tail observed here. The SQ slots are reusable as soon as the block issues
// its next request, so the keys are copied out before scheduling.
func (s *KVStore) processAsyncInitiate(sqc *queue.SQConsumer, tickets *ticketTable, req *queue.RequestMessage, lead uint32, res *queue.ResponseMessage) {
	res.Ticket = lead
	s.stats.asyncInitiates.Add(1)

	if tickets.full() {
		log.Printf("%s request %d refused: ticket table full", req.Cmd, req.RequestID)
		res.Status[0] = queue.StatusFail
		s.stats.failures.Add(1)
		return
	}

	n := int(req.NumKeys)
	stride := sqc.KeyStride()
	keys := make([][]byte, n)
	for k := 0; k < n; k++ {
		lane := req.Key[k*stride : k*stride+int(req.KeySize)]
		keys[k] = append([]byte(nil), lane...)
	}
	userBuffs, userStatus := req.UserBuffs, req.UserStatus
	buffSize := int(req.BuffSize)
	cmd, reqID := req.Cmd, req.RequestID

	future, err := s.pool.SubmitFuture(func() {
		for k := 0; k < n; k++ {
			dst := userBuffs.HostAt(k)[:buffSize]
			_, code := s.engine.Get(keys[k], dst)
			userStatus.HostAt(k)[0] = byte(s.decode(cmd, reqID, code))
		}
	})
	if err != nil {
		log.Printf("%s request %d failed: %v", cmd, reqID, err)
		res.Status[0] = queue.StatusFail
		s.stats.failures.Add(1)
		return
	}
	tickets.put(lead, future)
	res.Status[0] = queue.StatusSuccess
}

// decode translates a raw engine code into the caller-visible status.
// Failures are logged with the command name and request id.
func (s *KVStore) decode(cmd queue.Command, reqID uint32, code backend.Code) queue.Status {
	switch code {
	case backend.CodeOK:
		return queue.StatusSuccess
	case backend.CodeNotFound:
		return queue.StatusNonExist
	default:
		log.Printf("%s request %d failed: engine code %d", cmd, reqID, code)
		s.stats.failures.Add(1)
		return queue.StatusFail
	}
}
