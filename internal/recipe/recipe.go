package recipe

import (
	"fmt"
	"strconv"

	"github.com/eugenenazirov/hparams/internal/hparams"
)

// Recipe is the typed view of a training recipe once defaults are applied.
type Recipe struct {
	// system
	Mode               int  `yaml:"mode"`
	Distribute         bool `yaml:"distribute"`
	NumParallelWorkers int  `yaml:"num_parallel_workers"`
	ValWhileTrain      bool `yaml:"val_while_train"`
	ValInterval        int  `yaml:"val_interval"`
	ValStartEpoch      int  `yaml:"val_start_epoch"`
	LogInterval        int  `yaml:"log_interval"`
	Seed               int  `yaml:"seed"`

	// dataset
	Dataset         string `yaml:"dataset"`
	DataDir         string `yaml:"data_dir"`
	Shuffle         bool   `yaml:"shuffle"`
	DatasetDownload bool   `yaml:"dataset_download"`
	BatchSize       int    `yaml:"batch_size"`
	DropRemainder   bool   `yaml:"drop_remainder"`

	// augmentation
	ImageResize   int     `yaml:"image_resize"`
	HFlip         float64 `yaml:"hflip"`
	VFlip         float64 `yaml:"vflip"`
	Interpolation string  `yaml:"interpolation"`
	AutoAugment   string  `yaml:"auto_augment"`
	REProb        float64 `yaml:"re_prob"`
	Mixup         float64 `yaml:"mixup"`
	Cutmix        float64 `yaml:"cutmix"`
	CutmixProb    float64 `yaml:"cutmix_prob"`
	CropPct       float64 `yaml:"crop_pct"`
	ColorJitter   float64 `yaml:"color_jitter"`

	// model
	Model           string  `yaml:"model"`
	NumClasses      int     `yaml:"num_classes"`
	Pretrained      bool    `yaml:"pretrained"`
	CkptPath        string  `yaml:"ckpt_path"`
	EpochSize       int     `yaml:"epoch_size"`
	DatasetSinkMode bool    `yaml:"dataset_sink_mode"`
	AMPLevel        string  `yaml:"amp_level"`
	EMA             bool    `yaml:"ema"`
	EMADecay        float64 `yaml:"ema_decay"`

	// checkpoint
	KeepCheckpointMax int    `yaml:"keep_checkpoint_max"`
	CkptSaveDir       string `yaml:"ckpt_save_dir"`
	CkptSavePolicy    string `yaml:"ckpt_save_policy"`
	CkptSaveInterval  int    `yaml:"ckpt_save_interval"`
	BestCkptName      string `yaml:"best_ckpt_name"`
	SaveBestCkpt      bool   `yaml:"save_best_ckpt"`

	// loss
	Loss           string  `yaml:"loss"`
	LabelSmoothing float64 `yaml:"label_smoothing"`

	// scheduler
	Scheduler    string  `yaml:"scheduler"`
	LR           float64 `yaml:"lr"`
	MinLR        float64 `yaml:"min_lr"`
	WarmupEpochs int     `yaml:"warmup_epochs"`
	DecayEpochs  int     `yaml:"decay_epochs"`

	// optimizer
	Opt             string  `yaml:"opt"`
	WeightDecay     float64 `yaml:"weight_decay"`
	Momentum        float64 `yaml:"momentum"`
	FilterBiasAndBN bool    `yaml:"filter_bias_and_bn"`
	LossScale       float64 `yaml:"loss_scale"`
	UseNesterov     bool    `yaml:"use_nesterov"`
}

// Load reads the recipe at path, validates it and returns the typed view.
func Load(path string, strict bool) (Recipe, error) {
	doc, err := hparams.Load(path)
	if err != nil {
		return Recipe{}, err
	}
	return FromDocument(doc, strict)
}

// FromDocument validates doc, fills schema defaults and decodes it. Any
// violation fails the whole call; the returned error combines all of them.
func FromDocument(doc *hparams.Document, strict bool) (Recipe, error) {
	schema := Schema(strict)
	if err := hparams.Check(doc, schema); err != nil {
		return Recipe{}, fmt.Errorf("invalid recipe: %w", err)
	}

	var r Recipe
	if err := doc.WithDefaults(schema).Decode(&r); err != nil {
		return Recipe{}, err
	}
	if r.DecayEpochs == 0 {
		r.DecayEpochs = r.EpochSize - r.WarmupEpochs
	}
	return r, nil
}

// ShouldValidate reports whether validation runs after the given 1-based epoch.
func (r Recipe) ShouldValidate(epoch int) bool {
	if !r.ValWhileTrain || epoch < r.ValStartEpoch {
		return false
	}
	interval := max(r.ValInterval, 1)
	return (epoch-r.ValStartEpoch)%interval == 0
}

// ShouldSaveCheckpoint reports whether a checkpoint is written after the
// given 1-based epoch. The last epoch is always saved.
func (r Recipe) ShouldSaveCheckpoint(epoch int) bool {
	interval := max(r.CkptSaveInterval, 1)
	return epoch%interval == 0 || epoch == r.EpochSize
}

// CheckpointName returns the file name of the checkpoint for epoch and step.
func (r Recipe) CheckpointName(epoch, step int) string {
	return r.Model + "-" + strconv.Itoa(epoch) + "_" + strconv.Itoa(step) + ".ckpt"
}

// ShouldLogStep reports whether the 0-based step within an epoch of
// numBatches steps is logged: the first, the last and every LogInterval-th.
func (r Recipe) ShouldLogStep(step, numBatches int) bool {
	interval := max(r.LogInterval, 1)
	return step == 0 || (step+1)%interval == 0 || step+1 >= numBatches
}
