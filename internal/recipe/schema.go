package recipe

import (
	"fmt"

	"github.com/eugenenazirov/hparams/internal/hparams"
)

var (
	interpolations  = []string{"bilinear", "bicubic", "nearest"}
	ampLevels       = []string{"O0", "O1", "O2", "O3"}
	losses          = []string{"CE", "BCE"}
	checkpointModes = []string{"top_k", "latest_k"}
	schedulers      = []string{
		"constant",
		"cosine_decay",
		"exponential_decay",
		"step_decay",
		"multi_step_decay",
		"one_cycle",
		"cyclic",
		"polynomial_decay",
		"warmup_cosine_decay",
	}
	optimizers = []string{
		"sgd",
		"momentum",
		"adam",
		"adamw",
		"lion",
		"nadam",
		"adan",
		"rmsprop",
		"adagrad",
		"lamb",
	}
)

// Schema declares every key of an image-classification training recipe.
// Strict controls whether undeclared keys are reported.
func Schema(strict bool) hparams.Schema {
	return hparams.Schema{
		Fields: fields(),
		Rules: []hparams.Rule{
			minLRBelowLR,
			scheduleFitsEpochs,
			validationStartsInRun,
			topKNeedsValidation,
		},
		Strict: strict,
	}
}

func fields() []hparams.Field {
	var (
		zero = hparams.Limit(0)
		one  = hparams.Limit(1)
	)
	return []hparams.Field{
		// system
		{Key: "mode", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: zero, Max: one, Default: hparams.IntValue(0), Doc: "0 graph, 1 eager"},
		{Key: "distribute", Kind: hparams.KindBool, Group: hparams.GroupSystem, Default: hparams.BoolValue(false)},
		{Key: "num_parallel_workers", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: one, Default: hparams.IntValue(8)},
		{Key: "val_while_train", Kind: hparams.KindBool, Group: hparams.GroupSystem, Default: hparams.BoolValue(false)},
		{Key: "val_interval", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: one, Default: hparams.IntValue(1)},
		{Key: "val_start_epoch", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: one, Default: hparams.IntValue(1)},
		{Key: "log_interval", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: one, Default: hparams.IntValue(100)},
		{Key: "seed", Kind: hparams.KindInt, Group: hparams.GroupSystem, Min: zero},

		// dataset
		{Key: "dataset", Kind: hparams.KindString, Group: hparams.GroupDataset, Required: true},
		{Key: "data_dir", Kind: hparams.KindString, Group: hparams.GroupDataset, Required: true},
		{Key: "shuffle", Kind: hparams.KindBool, Group: hparams.GroupDataset, Default: hparams.BoolValue(true)},
		{Key: "dataset_download", Kind: hparams.KindBool, Group: hparams.GroupDataset, Default: hparams.BoolValue(false)},
		{Key: "batch_size", Kind: hparams.KindInt, Group: hparams.GroupDataset, Required: true, Min: one},
		{Key: "drop_remainder", Kind: hparams.KindBool, Group: hparams.GroupDataset, Default: hparams.BoolValue(true)},

		// augmentation
		{Key: "image_resize", Kind: hparams.KindInt, Group: hparams.GroupAugmentation, Min: one, Default: hparams.IntValue(224)},
		{Key: "hflip", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Max: one, Default: hparams.FloatValue(0.5)},
		{Key: "vflip", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Max: one, Default: hparams.FloatValue(0)},
		{Key: "interpolation", Kind: hparams.KindString, Group: hparams.GroupAugmentation, OneOf: interpolations, Default: hparams.StringValue("bilinear")},
		{Key: "auto_augment", Kind: hparams.KindString, Group: hparams.GroupAugmentation},
		{Key: "re_prob", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Max: one, Default: hparams.FloatValue(0)},
		{Key: "mixup", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Default: hparams.FloatValue(0)},
		{Key: "cutmix", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Default: hparams.FloatValue(0)},
		{Key: "cutmix_prob", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, Max: one, Default: hparams.FloatValue(1)},
		{Key: "crop_pct", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero, MinExclusive: true, Max: one, Default: hparams.FloatValue(0.875)},
		{Key: "color_jitter", Kind: hparams.KindFloat, Group: hparams.GroupAugmentation, Min: zero},

		// model
		{Key: "model", Kind: hparams.KindString, Group: hparams.GroupModel, Required: true},
		{Key: "num_classes", Kind: hparams.KindInt, Group: hparams.GroupModel, Required: true, Min: one},
		{Key: "pretrained", Kind: hparams.KindBool, Group: hparams.GroupModel, Default: hparams.BoolValue(false)},
		{Key: "ckpt_path", Kind: hparams.KindString, Group: hparams.GroupModel, Default: hparams.StringValue("")},
		{Key: "epoch_size", Kind: hparams.KindInt, Group: hparams.GroupModel, Required: true, Min: one},
		{Key: "dataset_sink_mode", Kind: hparams.KindBool, Group: hparams.GroupModel, Default: hparams.BoolValue(true)},
		{Key: "amp_level", Kind: hparams.KindString, Group: hparams.GroupModel, OneOf: ampLevels, Default: hparams.StringValue("O0")},
		{Key: "ema", Kind: hparams.KindBool, Group: hparams.GroupModel, Default: hparams.BoolValue(false)},
		{Key: "ema_decay", Kind: hparams.KindFloat, Group: hparams.GroupModel, Min: zero, Max: one, MaxExclusive: true, Default: hparams.FloatValue(0.9999)},

		// checkpoint
		{Key: "keep_checkpoint_max", Kind: hparams.KindInt, Group: hparams.GroupCheckpoint, Min: one, Default: hparams.IntValue(10)},
		{Key: "ckpt_save_dir", Kind: hparams.KindString, Group: hparams.GroupCheckpoint, Default: hparams.StringValue("./ckpt")},
		{Key: "ckpt_save_policy", Kind: hparams.KindString, Group: hparams.GroupCheckpoint, OneOf: checkpointModes, Default: hparams.StringValue("latest_k")},
		{Key: "ckpt_save_interval", Kind: hparams.KindInt, Group: hparams.GroupCheckpoint, Min: one, Default: hparams.IntValue(1)},
		{Key: "best_ckpt_name", Kind: hparams.KindString, Group: hparams.GroupCheckpoint, Default: hparams.StringValue("best.ckpt")},
		{Key: "save_best_ckpt", Kind: hparams.KindBool, Group: hparams.GroupCheckpoint, Default: hparams.BoolValue(true)},

		// loss
		{Key: "loss", Kind: hparams.KindString, Group: hparams.GroupLoss, OneOf: losses, Default: hparams.StringValue("CE")},
		{Key: "label_smoothing", Kind: hparams.KindFloat, Group: hparams.GroupLoss, Min: zero, Max: one, MaxExclusive: true, Default: hparams.FloatValue(0)},

		// scheduler
		{Key: "scheduler", Kind: hparams.KindString, Group: hparams.GroupScheduler, OneOf: schedulers, Default: hparams.StringValue("constant")},
		{Key: "lr", Kind: hparams.KindFloat, Group: hparams.GroupScheduler, Required: true, Min: zero, MinExclusive: true},
		{Key: "min_lr", Kind: hparams.KindFloat, Group: hparams.GroupScheduler, Min: zero, Default: hparams.FloatValue(1e-6)},
		{Key: "warmup_epochs", Kind: hparams.KindInt, Group: hparams.GroupScheduler, Min: zero, Default: hparams.IntValue(0)},
		{Key: "decay_epochs", Kind: hparams.KindInt, Group: hparams.GroupScheduler, Min: zero},

		// optimizer
		{Key: "opt", Kind: hparams.KindString, Group: hparams.GroupOptimizer, Required: true, OneOf: optimizers},
		{Key: "weight_decay", Kind: hparams.KindFloat, Group: hparams.GroupOptimizer, Min: zero, Default: hparams.FloatValue(0)},
		{Key: "momentum", Kind: hparams.KindFloat, Group: hparams.GroupOptimizer, Min: zero, Max: one, Default: hparams.FloatValue(0.9)},
		{Key: "filter_bias_and_bn", Kind: hparams.KindBool, Group: hparams.GroupOptimizer, Default: hparams.BoolValue(true)},
		{Key: "loss_scale", Kind: hparams.KindFloat, Group: hparams.GroupOptimizer, Min: zero, MinExclusive: true, Default: hparams.FloatValue(1)},
		{Key: "use_nesterov", Kind: hparams.KindBool, Group: hparams.GroupOptimizer, Default: hparams.BoolValue(false)},
	}
}

func minLRBelowLR(d *hparams.Document) error {
	lr, err := d.Float("lr")
	if err != nil {
		return nil
	}
	minLR, err := d.Float("min_lr")
	if err != nil || minLR <= lr {
		return nil
	}
	return &hparams.ValidationError{
		Key:    "min_lr",
		Value:  fmt.Sprint(minLR),
		Reason: fmt.Sprintf("must not exceed lr (%v)", lr),
	}
}

func scheduleFitsEpochs(d *hparams.Document) error {
	epochs, err := d.Int("epoch_size")
	if err != nil {
		return nil
	}
	warmup, err := d.Int("warmup_epochs")
	if err != nil {
		warmup = 0
	}
	decay, err := d.Int("decay_epochs")
	if err != nil {
		return nil
	}
	if warmup+decay <= epochs {
		return nil
	}
	return &hparams.ValidationError{
		Key:    "decay_epochs",
		Value:  fmt.Sprint(decay),
		Reason: fmt.Sprintf("warmup_epochs + decay_epochs must not exceed epoch_size (%d)", epochs),
	}
}

func validationStartsInRun(d *hparams.Document) error {
	if on, err := d.Bool("val_while_train"); err != nil || !on {
		return nil
	}
	epochs, err := d.Int("epoch_size")
	if err != nil {
		return nil
	}
	start, err := d.Int("val_start_epoch")
	if err != nil || start <= epochs {
		return nil
	}
	return &hparams.ValidationError{
		Key:    "val_start_epoch",
		Value:  fmt.Sprint(start),
		Reason: fmt.Sprintf("must not exceed epoch_size (%d)", epochs),
	}
}

// top_k ranks checkpoints by validation accuracy, which is only measured
// while validating during training.
func topKNeedsValidation(d *hparams.Document) error {
	policy, err := d.String("ckpt_save_policy")
	if err != nil || policy != "top_k" {
		return nil
	}
	if on, err := d.Bool("val_while_train"); err == nil && on {
		return nil
	}
	return &hparams.ValidationError{
		Key:    "ckpt_save_policy",
		Value:  policy,
		Reason: "top_k requires val_while_train: true",
	}
}
