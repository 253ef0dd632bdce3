package taskconfig

// Config is one row of per-task configuration for a batch: which image to
// annotate, with which classes and drawing modes. Keyed by (group, image
// URL); each image is used once per group. The batch poster consumes these,
// the review server only inspects them.
type Config struct {
	ExpGroup       string `yaml:"exp_group"`
	ImageURL       string `yaml:"image_url"`
	AnnotationMode string `yaml:"annotation_mode"`
	Classes        string `yaml:"classes"`
	PreAnnotations string `yaml:"pre_annotations"`
}
