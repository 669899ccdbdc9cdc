package v1

// ProvisionConfig is the descriptor for one image build: where it starts,
// what goes in, and how a container from it starts.
type ProvisionConfig struct {
	Status ProvisionConfigStatus `json:"-"`
	// Base is the base image reference
	Base string `json:"base,omitempty"`
	// Tag is the result reference to be pushed
	Tag       string   `json:"tag,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	// Env entries are KEY=VALUE, applied in written order on top of base env
	Env []string `json:"env,omitempty"`
	// Packages is the apt package set, deduplicated and order-insensitive.
	// Realized by render; build requires packagesInBase since it never runs
	// anything inside the image.
	Packages []string `json:"packages,omitempty"`
	// PackagesInBase declares that the base image already carries Packages
	PackagesInBase bool `json:"packagesInBase,omitempty"`
	// Accounts are created before copies so copied files can reference them
	Accounts []Account `json:"accounts,omitempty"`
	Copies   []Copy    `json:"copies,omitempty"`
	// Expose is reachability metadata only, entries like "80" or "80/tcp"
	Expose     []string `json:"expose,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	// User is the account the entry command runs as, defaults to the base image user
	User string `json:"user,omitempty"`
	// Entrypoint and Cmd are exec form; the resulting process runs in the
	// foreground and its lifetime is the container's lifetime
	Entrypoint []string `json:"entrypoint,omitempty"`
	Cmd        []string `json:"cmd,omitempty"`
}

type ProvisionConfigStatus struct {
	Template  bool   // true if config is from a template
	Md5       string // config source md5 (not for template)
	Sha256    string // config source sha256 (not for template)
	Overrides ProvisionConfigOverrides
}

type ProvisionConfigOverrides struct {
	Base bool
}

// Account is a disposable test identity. The password is embedded in the
// image in cleartext (render) or as a sha512-crypt hash (build), never a
// production control.
type Account struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	// Uid 0 means allocate the next free uid >= 1000 from the base passwd
	Uid  int    `json:"uid,omitempty"`
	Gid  int    `json:"gid,omitempty"`
	Home string `json:"home,omitempty"`
	// Shell defaults to /bin/bash
	Shell string `json:"shell,omitempty"`
	// Groups are supplementary memberships, e.g. sudo
	Groups []string `json:"groups,omitempty"`
}

type Copy struct {
	Attributes CopyAttributes `json:"attributes,omitempty"`
	// exactly one of the following
	LocalDir  LocalDir  `json:"localDir,omitempty"`
	LocalFile LocalFile `json:"localFile,omitempty"`
}

type CopyAttributes struct {
	Uid uint16 `json:"uid,omitempty"`
	Gid uint16 `json:"gid,omitempty"`

	// Mode bits to use on files, must be a value between 0 and 0777.
	// YAML accepts both octal and decimal values, JSON requires decimal values for mode bits.
	FileMode int32 `json:"mode,omitempty"`

	// DirMode bits to use on directories, must be a value between 0 and 0777.
	// If not specified, the mode value will be used for directories as well.
	DirMode int32 `json:"dirMode,omitempty"`
}

// LocalFile is a single file that should be placed as-is into the image
// at ContainerPath, for example ./apache2.conf to /etc/apache2/apache2.conf
type LocalFile struct {
	Path          string `json:"path"`
	ContainerPath string `json:"containerPath,omitempty"`
	MaxSize       string `json:"maxSize,omitempty"`
}

// LocalDir is a directory structure that should be placed as-is into the
// image with an optional path prefix, for example ./audit_system to /opt/audit/audit_system
type LocalDir struct {
	Path          string   `json:"path"`
	ContainerPath string   `json:"containerPath,omitempty"`
	Ignore        []string `json:"ignore,omitempty"`
	MaxFiles      int      `json:"maxFiles,omitempty"`
	MaxSize       string   `json:"maxSize,omitempty"`
}
