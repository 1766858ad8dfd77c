package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"guestgreet/internal/core/recognition"
	"guestgreet/internal/observability"

	log "github.com/sirupsen/logrus"
)

// ErrPoolClosed wird nach Shutdown für neue Bilder zurückgegeben
var ErrPoolClosed = errors.New("frame pool is shut down")

// FrameRecognizer verarbeitet ein einzelnes Kamerabild
type FrameRecognizer interface {
	RecognizeFromFrame(ctx context.Context, req recognition.FrameRequest) (*recognition.FrameResult, error)
}

// FramePool begrenzt die Anzahl gleichzeitig verarbeiteter Kamerabilder
type FramePool struct {
	recognizer      FrameRecognizer
	jobs            chan *frameJob
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

// frameJob ist ein wartendes Kamerabild
type frameJob struct {
	ctx      context.Context
	req      recognition.FrameRequest
	resultCh chan *frameResult // Individueller Ergebniskanal pro Job
}

type frameResult struct {
	result *recognition.FrameResult
	err    error
}

// NewFramePool erstellt einen neuen Pool; workers <= 0 wählt die Anzahl anhand der CPUs
func NewFramePool(recognizer FrameRecognizer, workers int) *FramePool {
	if workers <= 0 {
		// 75% der verfügbaren CPUs, mindestens 2
		workers = max(2, runtime.NumCPU()*3/4)
	}

	log.WithField("component", "frames").Infof("Initializing frame worker pool with %d workers", workers)

	pool := &FramePool{
		recognizer:  recognizer,
		jobs:        make(chan *frameJob, workers*2),
		workerCount: workers,
		shutdown:    make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

func (p *FramePool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.jobs:
					observability.FrameQueueDepth.Set(float64(len(p.jobs)))
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Frame worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *FramePool) run(workerID int, job *frameJob) {
	// Bereits abgebrochene Anfragen nicht mehr an den Gesichtsdienst senden
	if err := job.ctx.Err(); err != nil {
		job.resultCh <- &frameResult{err: err}
		return
	}

	p.activeJobsMutex.Lock()
	p.activeJobs++
	observability.FrameActiveJobs.Set(float64(p.activeJobs))
	p.activeJobsMutex.Unlock()

	start := time.Now()
	result, err := p.recognizer.RecognizeFromFrame(job.ctx, job.req)

	p.activeJobsMutex.Lock()
	p.activeJobs--
	observability.FrameActiveJobs.Set(float64(p.activeJobs))
	p.activeJobsMutex.Unlock()

	job.resultCh <- &frameResult{result: result, err: err}
	log.Debugf("Frame worker %d finished in %v", workerID, time.Since(start))
}

// Recognize reiht ein Bild ein und wartet auf das Ergebnis
func (p *FramePool) Recognize(ctx context.Context, req recognition.FrameRequest) (*recognition.FrameResult, error) {
	job := &frameJob{
		ctx:      ctx,
		req:      req,
		resultCh: make(chan *frameResult, 1),
	}

	select {
	case <-p.shutdown:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- job:
		observability.FrameQueueDepth.Set(float64(len(p.jobs)))
	case <-p.shutdown:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-job.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *FramePool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// WorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *FramePool) WorkerCount() int {
	return p.workerCount
}

// QueueCapacity gibt die Kapazität der Warteschlange zurück
func (p *FramePool) QueueCapacity() int {
	return cap(p.jobs)
}

// QueueLength gibt die Anzahl wartender Bilder zurück
func (p *FramePool) QueueLength() int {
	return len(p.jobs)
}

// Shutdown stoppt alle Worker; laufende Bilder werden noch abgeschlossen
func (p *FramePool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()

	for {
		select {
		case job := <-p.jobs:
			job.resultCh <- &frameResult{err: ErrPoolClosed}
		default:
			observability.FrameQueueDepth.Set(0)
			return
		}
	}
}
