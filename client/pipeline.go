package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/protocol"
	"github.com/frostbyte-io/frostbyte-go/transport"
)

// ConnSource decides where a pipeline gets its connection for each
// execution. It is fixed at construction: either a pool (acquire per
// execute, release after) or one dedicated connection.
type ConnSource interface {
	acquire() (*transport.Conn, error)
	release(*transport.Conn)
}

// PoolSource draws a connection from a pool for every execution.
type PoolSource struct {
	Pool *transport.Pool
}

func (s PoolSource) acquire() (*transport.Conn, error) { return s.Pool.Acquire() }
func (s PoolSource) release(c *transport.Conn)         { s.Pool.Release(c) }

// DirectSource runs every execution over one fixed connection.
type DirectSource struct {
	Conn *transport.Conn
}

func (s DirectSource) acquire() (*transport.Conn, error) { return s.Conn, nil }
func (s DirectSource) release(*transport.Conn)           {}

// Result is the outcome of one pipelined command. A server-side ERROR
// or a decode failure sets Err without affecting sibling results.
type Result struct {
	Response *protocol.Response
	Err      error
}

// Pipeline accumulates commands and submits them as one atomic write.
// The command list is consumed by execution, successful or not; the
// pipeline itself can be reused for a fresh batch afterwards.
//
// A pipeline is not safe for concurrent use.
type Pipeline struct {
	source ConnSource
	cmds   []*protocol.Command
}

// NewPipeline creates a pipeline over the given connection source.
func NewPipeline(source ConnSource) *Pipeline {
	return &Pipeline{source: source}
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	return len(p.cmds)
}

func (p *Pipeline) add(cmd *protocol.Command) *Pipeline {
	p.cmds = append(p.cmds, cmd)
	return p
}

// Ping queues a PING.
func (p *Pipeline) Ping() *Pipeline { return p.add(protocol.NewPingCommand()) }

// Put queues a PUT without TTL.
func (p *Pipeline) Put(key, value string) *Pipeline {
	return p.add(protocol.NewPutCommand(key, []byte(value)))
}

// PutTTL queues a PUT with a TTL in seconds.
func (p *Pipeline) PutTTL(key, value string, ttlSeconds uint64) *Pipeline {
	return p.add(protocol.NewPutTTLCommand(key, []byte(value), ttlSeconds))
}

// Get queues a GET.
func (p *Pipeline) Get(key string) *Pipeline { return p.add(protocol.NewGetCommand(key)) }

// Del queues a DEL.
func (p *Pipeline) Del(key string) *Pipeline { return p.add(protocol.NewDelCommand(key)) }

// Expire queues an EXPIRE.
func (p *Pipeline) Expire(key string, ttlSeconds uint64) *Pipeline {
	return p.add(protocol.NewExpireCommand(key, ttlSeconds))
}

// Stats queues a STATS.
func (p *Pipeline) Stats() *Pipeline { return p.add(protocol.NewStatsCommand()) }

// Metrics queues a METRICS.
func (p *Pipeline) Metrics() *Pipeline { return p.add(protocol.NewMetricsCommand()) }

// Execute submits every queued command as one write and returns one
// result per command in submission order. Decode failures and
// server-reported errors are isolated to their slot; only transport
// failures abort the batch as a whole. The queue is cleared either way.
func (p *Pipeline) Execute() ([]Result, error) {
	cmds := p.cmds
	p.cmds = nil

	if len(cmds) == 0 {
		return nil, nil
	}

	conn, err := p.source.acquire()
	if err != nil {
		return nil, err
	}
	defer p.source.release(conn)

	// encoding uses the acquired connection's codec: stateful codecs
	// intern per connection, so payload and socket must match
	codec := conn.Codec()
	payloads := make([][]byte, len(cmds))
	for i, cmd := range cmds {
		b, err := codec.EncodeCommand(cmd)
		if err != nil {
			return nil, fmt.Errorf("encoding pipelined %s: %w", cmd.Type, err)
		}
		payloads[i] = b
	}

	frames, err := conn.SendPipeline(payloads)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(frames))
	for i, frame := range frames {
		resp, derr := codec.DecodeResponse(frame)
		if derr != nil {
			results[i] = Result{Err: derr}
			continue
		}
		results[i] = Result{Response: resp, Err: resp.Err()}
	}
	return results, nil
}

// ExecuteBatched splits the queued commands into chunks of batchSize
// and executes the chunks sequentially, concatenating results. Overall
// command order is preserved across chunks. A transport failure aborts
// at the failing chunk, returning the results gathered so far alongside
// the error.
func (p *Pipeline) ExecuteBatched(batchSize int) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = config.DefaultPipelineBatchSize
	}

	cmds := p.cmds
	p.cmds = nil

	var out []Result
	for start := 0; start < len(cmds); start += batchSize {
		end := start + batchSize
		if end > len(cmds) {
			end = len(cmds)
		}

		chunk := &Pipeline{source: p.source, cmds: cmds[start:end]}
		results, err := chunk.Execute()
		if err != nil {
			return out, err
		}
		out = append(out, results...)
	}
	return out, nil
}

// PipelineGroup runs several independent pipelines as one unit.
type PipelineGroup struct {
	pipelines []*Pipeline
}

// NewPipelineGroup creates a group over the given pipelines.
func NewPipelineGroup(pipelines ...*Pipeline) *PipelineGroup {
	return &PipelineGroup{pipelines: pipelines}
}

// Add appends a pipeline to the group and returns it for chaining.
func (g *PipelineGroup) Add(p *Pipeline) *Pipeline {
	g.pipelines = append(g.pipelines, p)
	return p
}

// ExecuteConcurrent runs every member pipeline at the same time.
// Result order follows the order pipelines were added, not completion
// order; there is no ordering guarantee between pipelines, only within
// each. Per-pipeline transport failures are joined into one error.
func (g *PipelineGroup) ExecuteConcurrent() ([][]Result, error) {
	results := make([][]Result, len(g.pipelines))
	errs := make([]error, len(g.pipelines))

	var wg sync.WaitGroup
	for i, p := range g.pipelines {
		wg.Add(1)
		go func(i int, p *Pipeline) {
			defer wg.Done()
			results[i], errs[i] = p.Execute()
		}(i, p)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// ExecuteSequential runs the member pipelines one after another,
// stopping at the first transport failure.
func (g *PipelineGroup) ExecuteSequential() ([][]Result, error) {
	results := make([][]Result, len(g.pipelines))
	for i, p := range g.pipelines {
		res, err := p.Execute()
		results[i] = res
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
