package main

import "noshowd/internal/ctl"

func main() { ctl.Main() }
