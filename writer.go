package zarr3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"

	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

// Frame is one image plane from the acquisition stream. Index must increase
// by one per frame; Width, Height and DataType must match the descriptor's
// spatial dimensions and sample type.
type Frame struct {
	Index    uint64
	Width    int
	Height   int
	DataType DataType
	Data     []byte
}

// Option configures a StreamWriter.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	compressor Compressor
	external   json.RawMessage
	queueDepth int
}

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompressor compresses each chunk payload inside shards with the given
// codec. The emitted array metadata advertises the codec so readers can
// decode it.
func WithCompressor(c Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

// WithExternalMetadata sets the document mirrored to acquire.json at the
// storage root. When unset an empty object is written.
func WithExternalMetadata(doc json.RawMessage) Option {
	return func(o *options) {
		o.external = doc
	}
}

// WithQueueDepth bounds the number of completed chunks queued per shard
// before Append blocks. Backpressure, not unbounded buffering.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueDepth = n
		}
	}
}

type streamState uint8

const (
	stateIdle streamState = iota
	stateAccumulating
	stateFlushing
	stateClosed
)

type shardTask struct {
	slot int
	data []byte
}

type openShard struct {
	ch          chan shardTask
	appendShard int
}

// StreamWriter routes an ordered frame stream into chunk buffers, hands
// completed chunks to per-shard writers, and emits Zarr v3 metadata when the
// stream is closed. It is not safe for concurrent use: one logical producer
// feeds frames in acquisition order.
type StreamWriter struct {
	bucket *blob.Bucket
	desc   ArrayDescriptor
	opts   options
	log    *slog.Logger

	state     streamState
	nextFrame uint64
	planes    int

	itemSize       int
	frameW, frameH int
	chunkW, chunkH int
	nx, ny         int
	nonSpatial     []Dimension
	middleExtents  []int
	middleChunks   []int
	bufferExtents  []int
	shardSizes     []int
	planeBytes     int
	bytesPerChunk  int
	chunksPerShard int

	curBlock int
	buffers  [][]byte

	eg        *errgroup.Group
	workerCtx context.Context
	shards    map[string]*openShard
	closeErr  error
}

// NewStreamWriter validates the descriptor and prepares a writer rooted at
// the given bucket. Close must be called to finalize shards and emit
// metadata, even after an error.
func NewStreamWriter(bucket *blob.Bucket, desc ArrayDescriptor, opts ...Option) (*StreamWriter, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	o := options{
		logger:     slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		queueDepth: 2,
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := len(desc.Dimensions)
	ydim, xdim := desc.Dimensions[n-2], desc.Dimensions[n-1]
	w := &StreamWriter{
		bucket:     bucket,
		desc:       desc,
		opts:       o,
		log:        o.logger,
		itemSize:   desc.DataType.Size(),
		frameW:     xdim.ArraySize,
		frameH:     ydim.ArraySize,
		chunkW:     xdim.ChunkSize,
		chunkH:     ydim.ChunkSize,
		nx:         xdim.chunkCount(),
		ny:         ydim.chunkCount(),
		nonSpatial: desc.Dimensions[:n-2],
		shards:     make(map[string]*openShard),
	}
	for _, d := range desc.Dimensions[1 : n-2] {
		w.middleExtents = append(w.middleExtents, d.ArraySize)
		w.middleChunks = append(w.middleChunks, d.chunkCount())
	}
	w.bufferExtents = append(append([]int{}, w.middleChunks...), w.ny, w.nx)
	w.planeBytes = w.chunkH * w.chunkW * w.itemSize
	w.bytesPerChunk = w.planeBytes
	for _, d := range w.nonSpatial {
		w.bytesPerChunk *= d.ChunkSize
	}
	w.chunksPerShard = 1
	for _, d := range desc.Dimensions {
		w.shardSizes = append(w.shardSizes, d.ShardSize)
		w.chunksPerShard *= d.ShardSize
	}
	w.buffers = make([][]byte, product(w.bufferExtents))
	w.eg, w.workerCtx = errgroup.WithContext(context.Background())
	return w, nil
}

func product(xs []int) int {
	p := 1
	for _, x := range xs {
		p *= x
	}
	return p
}

// Append routes one frame into the chunk buffers of its append-chunk block,
// dispatching the previous block's chunks when the block rolls over.
func (w *StreamWriter) Append(ctx context.Context, frame Frame) error {
	if w.state == stateClosed || w.state == stateFlushing {
		return ErrWriterClosed
	}
	if err := w.validateFrame(frame); err != nil {
		return err
	}

	g := w.planeCoords(w.planes)
	if ext := w.desc.Dimensions[0].ArraySize; ext > 0 && g[0] >= ext {
		return fmt.Errorf("%w: frame %d exceeds declared extent %d along %q",
			ErrFrameOrder, frame.Index, ext, w.desc.Dimensions[0].Name)
	}

	block := g[0] / w.desc.Dimensions[0].ChunkSize
	if block != w.curBlock {
		if err := w.flushBlock(ctx); err != nil {
			return err
		}
		w.retireShards(block / w.desc.Dimensions[0].ShardSize)
		w.curBlock = block
		w.buffers = make([][]byte, len(w.buffers))
	}

	// Plane position within the chunk, row-major over the non-spatial
	// chunk extents.
	planeIdx := 0
	for i, d := range w.nonSpatial {
		planeIdx = planeIdx*d.ChunkSize + g[i]%d.ChunkSize
	}
	dstOff := planeIdx * w.planeBytes

	bufBase := 0
	for i, cnt := range w.middleChunks {
		bufBase = bufBase*cnt + g[i+1]/w.nonSpatial[i+1].ChunkSize
	}
	bufBase *= w.ny * w.nx

	for cy := 0; cy < w.ny; cy++ {
		srcY0 := cy * w.chunkH
		rows := min(w.chunkH, w.frameH-srcY0)
		for cx := 0; cx < w.nx; cx++ {
			srcX0 := cx * w.chunkW
			rowBytes := min(w.chunkW, w.frameW-srcX0) * w.itemSize
			bi := bufBase + cy*w.nx + cx
			buf := w.buffers[bi]
			if buf == nil {
				buf = make([]byte, w.bytesPerChunk)
				w.buffers[bi] = buf
			}
			copyPlaneRegion(buf, dstOff, w.chunkW*w.itemSize,
				frame.Data, (srcY0*w.frameW+srcX0)*w.itemSize, w.frameW*w.itemSize,
				rows, rowBytes)
		}
	}

	w.planes++
	w.nextFrame++
	w.state = stateAccumulating
	return nil
}

// planeCoords decomposes a plane counter into global sample coordinates
// along the non-spatial dimensions, innermost varying fastest.
func (w *StreamWriter) planeCoords(plane int) []int {
	g := make([]int, len(w.nonSpatial))
	for i := len(g) - 1; i >= 1; i-- {
		ext := w.middleExtents[i-1]
		g[i] = plane % ext
		plane /= ext
	}
	g[0] = plane
	return g
}

func (w *StreamWriter) validateFrame(frame Frame) error {
	if frame.Width != w.frameW {
		return &FrameShapeMismatchError{Field: "width", Want: w.frameW, Got: frame.Width}
	}
	if frame.Height != w.frameH {
		return &FrameShapeMismatchError{Field: "height", Want: w.frameH, Got: frame.Height}
	}
	if frame.DataType != w.desc.DataType {
		return &FrameShapeMismatchError{Field: "data type", Want: w.desc.DataType, Got: frame.DataType}
	}
	if want := w.frameW * w.frameH * w.itemSize; len(frame.Data) != want {
		return &FrameShapeMismatchError{Field: "buffer size", Want: want, Got: len(frame.Data)}
	}
	if frame.Index != w.nextFrame {
		return fmt.Errorf("%w: got frame %d, want %d", ErrFrameOrder, frame.Index, w.nextFrame)
	}
	return nil
}

// flushBlock dispatches every populated chunk buffer of the current block to
// its shard. Buffers are nominal-size and zero padded past the array bounds.
func (w *StreamWriter) flushBlock(ctx context.Context) error {
	coords := make([]int, len(w.bufferExtents))
	chunkCoord := make([]int, len(w.desc.Dimensions))
	for idx, buf := range w.buffers {
		if buf == nil {
			continue
		}
		unflatten(idx, w.bufferExtents, coords)
		chunkCoord[0] = w.curBlock
		copy(chunkCoord[1:], coords)
		if err := w.dispatchChunk(ctx, chunkCoord, buf); err != nil {
			return err
		}
		w.buffers[idx] = nil
	}
	return nil
}

// dispatchChunk hands one completed chunk to its shard worker, opening the
// shard lazily. Backpressure comes from the bounded channel.
func (w *StreamWriter) dispatchChunk(ctx context.Context, chunkCoord []int, data []byte) error {
	shardCoord := make([]int, len(chunkCoord))
	slotCoord := make([]int, len(chunkCoord))
	for i := range chunkCoord {
		shardCoord[i] = chunkCoord[i] / w.shardSizes[i]
		slotCoord[i] = chunkCoord[i] % w.shardSizes[i]
	}
	slot := flatten(slotCoord, w.shardSizes)
	key := shardKey(shardCoord)

	sh, ok := w.shards[key]
	if !ok {
		sw, err := newShardWriter(w.workerCtx, w.bucket, key, w.chunksPerShard, w.log)
		if err != nil {
			return err
		}
		sh = &openShard{
			ch:          make(chan shardTask, w.opts.queueDepth),
			appendShard: shardCoord[0],
		}
		w.shards[key] = sh
		ch := sh.ch
		w.eg.Go(func() error {
			return w.runShard(sw, ch)
		})
	}

	w.log.Debug("chunk dispatched", "shard", key, "slot", slot, "bytes", len(data))
	select {
	case sh.ch <- shardTask{slot: slot, data: data}:
		return nil
	case <-w.workerCtx.Done():
		return fmt.Errorf("%w: shard worker failed", ErrStorageIO)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runShard is the single writer goroutine for one shard: it serializes all
// writes to the shard file and finalizes it once the channel closes.
func (w *StreamWriter) runShard(sw *shardWriter, ch <-chan shardTask) error {
	for task := range ch {
		payload, err := w.opts.compressor.encode(task.data)
		if err != nil {
			sw.abort()
			return fmt.Errorf("%w: shard %s: %w", ErrStorageIO, sw.key, err)
		}
		if err := sw.writeChunk(task.slot, payload); err != nil {
			return err
		}
	}
	return sw.finalize()
}

// retireShards finalizes shards that can receive no more chunks because the
// append coordinate has rolled past them.
func (w *StreamWriter) retireShards(before int) {
	for key, sh := range w.shards {
		if sh.appendShard < before {
			close(sh.ch)
			delete(w.shards, key)
		}
	}
}

// Close flushes trailing partial chunks, finalizes every open shard, and
// writes the group, external and array metadata documents. It is idempotent
// and must be called exactly once per acquisition, including after errors.
func (w *StreamWriter) Close(ctx context.Context) error {
	if w.state == stateClosed {
		return w.closeErr
	}
	w.state = stateFlushing

	err := w.flushBlock(ctx)
	for key, sh := range w.shards {
		close(sh.ch)
		delete(w.shards, key)
	}
	if werr := w.eg.Wait(); err == nil {
		err = werr
	}
	if err == nil {
		err = w.writeMetadata(ctx)
	}

	w.state = stateClosed
	w.closeErr = err
	if err == nil {
		w.log.Info("array finalized", "frames", w.planes, "shape", w.resolvedShape())
	}
	return err
}

// FramesWritten reports the number of frames appended so far.
func (w *StreamWriter) FramesWritten() int {
	return w.planes
}

// resolvedShape is the final array shape: declared extents, with an
// unbounded append dimension resolved from the frames actually written.
func (w *StreamWriter) resolvedShape() []int {
	shape := make([]int, len(w.desc.Dimensions))
	for i, d := range w.desc.Dimensions {
		shape[i] = d.ArraySize
	}
	if shape[0] == 0 {
		planesPerSlot := product(w.middleExtents)
		shape[0] = ceilDiv(w.planes, planesPerSlot)
	}
	return shape
}
