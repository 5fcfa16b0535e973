// Package recipe declares the schema of an image-classification training
// recipe (system, dataset, augmentation, model, checkpoint, loss, scheduler
// and optimizer keys), validates documents against it and exposes the typed
// Recipe consumed by a training harness, including its epoch and step
// cadence for validation, checkpointing and logging.
package recipe
