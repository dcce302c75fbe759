package main

const VERSION = "0.1.0"
