package model

import (
	"fmt"
	"math"
	"path"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"phishing-detector/internal/models"
	"phishing-detector/internal/tokenizer"
)

// DType of every weight
const DType = dtypes.Float32

// weightScope holds the encoder and head variables. Optimizer state lives
// outside it.
const weightScope = "/encoder"

// Classifier is a transformer encoder with a single phishing logit on top.
// Its weights live in a gomlx context shared by training and inference.
type Classifier struct {
	cfg     Config
	backend backends.Backend
	ctx     *context.Context

	mu   sync.Mutex
	exec *context.Exec
}

// New builds a classifier whose variables are initialized from seed the
// first time a graph is built
func New(backend backends.Backend, cfg Config, seed int64) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.New().Checked(false)
	ctx.SetParam(initializers.ParamInitialSeed, seed)
	return &Classifier{cfg: cfg, backend: backend, ctx: ctx}, nil
}

// Config returns the architecture
func (c *Classifier) Config() Config { return c.cfg }

// Context holds the variables
func (c *Classifier) Context() *context.Context { return c.ctx }

// Backend the graphs are compiled for
func (c *Classifier) Backend() backends.Backend { return c.backend }

// ModelGraph has the train.ModelFn signature. inputs are the token ids and
// attention mask from Inputs; the output is one logit per email.
func (c *Classifier) ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return []*Node{c.logitsGraph(ctx, inputs[0], inputs[1])}
}

func (c *Classifier) logitsGraph(ctx *context.Context, tokens, mask *Node) *Node {
	g := tokens.Graph()
	batch := tokens.Shape().Dimensions[0]
	seq, d := c.cfg.MaxLength, c.cfg.NEmbd
	headDim := d / c.cfg.NHead
	ctx = ctx.In("encoder")

	emb := ctx.In("embeddings")
	table := emb.VariableWithShape("tokens", shapes.Make(DType, c.cfg.VocabSize, d)).ValueGraph(g)
	embed := Gather(table, Reshape(tokens, batch, seq, 1))
	positions := emb.VariableWithShape("positions", shapes.Make(DType, 1, seq, d)).ValueGraph(g)
	embed = Add(embed, positions)
	embed = layers.LayerNormalization(emb.In("norm"), embed, -1).Done()

	keyMask := NotEqual(mask, ZerosLike(mask))
	for i := 0; i < c.cfg.NLayer; i++ {
		layer := ctx.In(fmt.Sprintf("layer_%d", i))
		attn := layers.MultiHeadAttention(layer.In("attention"), embed, embed, embed, c.cfg.NHead, headDim).
			SetKeyMask(keyMask).
			SetOutputDim(d).
			SetValueHeadDim(headDim).Done()
		embed = layers.LayerNormalization(layer.In("attention_norm"), Add(embed, attn), -1).Done()

		ffn := layers.Dense(layer.In("ffn_1"), embed, true, 4*d)
		ffn = Tanh(ffn)
		ffn = layers.Dense(layer.In("ffn_2"), ffn, true, d)
		embed = layers.LayerNormalization(layer.In("ffn_norm"), Add(embed, ffn), -1).Done()
	}

	// mean over unmasked positions
	weights := Reshape(mask, batch, seq, 1)
	pooled := Div(ReduceSum(Mul(embed, weights), 1), ReduceSum(weights, 1))
	return layers.DenseWithBias(ctx.In("classifier"), pooled, 1)
}

// Inputs packs encodings into the token and mask tensors the graph takes.
// Sequences are padded or cut to MaxLength and ids outside the vocabulary
// read as unknown.
func (c *Classifier) Inputs(encs []tokenizer.Encoding) (tokens, mask *tensors.Tensor) {
	n := c.cfg.MaxLength
	ids := make([][]int32, len(encs))
	masks := make([][]float32, len(encs))
	for i, enc := range encs {
		ids[i] = make([]int32, n)
		masks[i] = make([]float32, n)
		kept := 0
		for p := 0; p < n && p < len(enc.IDs); p++ {
			if p >= len(enc.AttentionMask) || enc.AttentionMask[p] == 0 {
				continue
			}
			id := enc.IDs[p]
			if id < 0 || id >= c.cfg.VocabSize {
				id = tokenizer.UnkID
			}
			ids[i][p] = int32(id)
			masks[i][p] = 1
			kept++
		}
		if kept == 0 {
			masks[i][0] = 1
		}
	}
	return tensors.FromValue(ids), tensors.FromValue(masks)
}

// Scores returns P(phishing) for each encoding
func (c *Classifier) Scores(encs []tokenizer.Encoding) ([]float64, error) {
	if len(encs) == 0 {
		return nil, nil
	}
	tokens, mask := c.Inputs(encs)

	c.mu.Lock()
	defer c.mu.Unlock()
	var logits [][]float32
	err := exceptions.TryCatch[error](func() {
		if c.exec == nil {
			c.exec = context.NewExec(c.backend, c.ctx, func(ctx *context.Context, tokens, mask *Node) *Node {
				return c.logitsGraph(ctx, tokens, mask)
			})
		}
		outputs := c.exec.Call(tokens, mask)
		logits = outputs[0].Value().([][]float32)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run model: %w", err)
	}

	scores := make([]float64, len(logits))
	for i, row := range logits {
		scores[i] = Sigmoid(float64(row[0]))
	}
	return scores, nil
}

// Sigmoid maps a logit to a probability
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// PredictBatch classifies every encoding in one pass
func (c *Classifier) PredictBatch(encs []tokenizer.Encoding) ([]models.Prediction, error) {
	scores, err := c.Scores(encs)
	if err != nil {
		return nil, err
	}
	preds := make([]models.Prediction, len(scores))
	for i, s := range scores {
		preds[i] = c.prediction(s)
	}
	return preds, nil
}

// Predict classifies enc
func (c *Classifier) Predict(enc tokenizer.Encoding) (models.Prediction, error) {
	preds, err := c.PredictBatch([]tokenizer.Encoding{enc})
	if err != nil {
		return models.Prediction{}, err
	}
	return preds[0], nil
}

// prediction turns P(phishing) into a labelled result. Ties go to
// Legitimate.
func (c *Classifier) prediction(score float64) models.Prediction {
	probs := [models.NumLabels]float64{1 - score, score}
	label := models.Legitimate
	if probs[models.Phishing] > probs[models.Legitimate] {
		label = models.Phishing
	}
	return models.Prediction{
		Label:         label,
		LabelName:     c.cfg.LabelName(label),
		Confidence:    probs[label],
		Probabilities: probs,
		IsPhishing:    label == models.Phishing,
	}
}

func isWeight(v *context.Variable) bool {
	return strings.HasPrefix(v.Scope(), weightScope)
}

func variableKey(v *context.Variable) string {
	return path.Join(v.Scope(), v.Name())
}

// NumParameters counts the scalars in the encoder and head. It is zero
// until the first graph is built.
func (c *Classifier) NumParameters() int {
	n := 0
	c.ctx.EnumerateVariables(func(v *context.Variable) {
		if isWeight(v) {
			n += v.Shape().Size()
		}
	})
	return n
}

// Snapshot copies the current weights
func (c *Classifier) Snapshot() map[string]*tensors.Tensor {
	snap := make(map[string]*tensors.Tensor)
	c.ctx.EnumerateVariables(func(v *context.Variable) {
		if isWeight(v) {
			snap[variableKey(v)] = tensors.FromAnyValue(v.Value().Value())
		}
	})
	return snap
}

// Restore writes weights from a Snapshot back into the model
func (c *Classifier) Restore(snap map[string]*tensors.Tensor) error {
	var missing []string
	c.ctx.EnumerateVariables(func(v *context.Variable) {
		if !isWeight(v) {
			return
		}
		t, ok := snap[variableKey(v)]
		if !ok {
			missing = append(missing, variableKey(v))
			return
		}
		v.SetValue(tensors.FromAnyValue(t.Value()))
	})
	if len(missing) > 0 {
		return fmt.Errorf("%w: snapshot has no value for %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
