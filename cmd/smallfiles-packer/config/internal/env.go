package internal

// EnvPrefix is a prefix of ENV variables related
// to packer configuration.
const EnvPrefix = "smallfiles"

// EnvSeparator is a section separator in ENV variables.
const EnvSeparator = "_"
